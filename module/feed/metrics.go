package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moodchat_feed_subscriptions",
		Help: "Number of live feed subscriptions on this node",
	})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moodchat_feed_events_published_total",
		Help: "Events handed to the local hub, by table",
	}, []string{"table"})

	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moodchat_feed_events_delivered_total",
		Help: "Events passed to subscription handlers",
	})

	handlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moodchat_feed_handler_failures_total",
		Help: "Handler errors and panics, each dropped without closing the subscription",
	})
)
