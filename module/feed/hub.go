package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"moodchat/logger"
	"moodchat/tools/safe"

	"go.uber.org/zap"
)

var ErrHubClosed = errors.New("feed hub closed")

// Hub fans events out to local subscriptions.
//
// Every subscription owns an unbounded FIFO queue drained by its own
// goroutine, so Publish never blocks on a slow consumer and events on one
// topic reach a subscriber in the order they were published.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	closed bool

	nextID atomic.Uint64
	log    *zap.Logger
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[uint64]*Subscription),
		log:    logger.Named("feed"),
	}
}

// Subscribe registers fn for topic. Late subscribers only see events
// published after this call returns; history comes from the owning service.
func (h *Hub) Subscribe(topic string, filter Filter, fn Handler) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New("feed: nil handler")
	}
	if _, _, err := ParseTopic(topic); err != nil {
		return nil, err
	}
	sub := &Subscription{
		id:     h.nextID.Add(1),
		topic:  topic,
		filter: filter,
		fn:     fn,
		hub:    h,
		done:   make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	subscriptionsActive.Inc()
	safe.Go("feed.subscription", sub.loop)
	return sub, nil
}

// Unsubscribe releases sub; calling it again is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Close()
	}
}

// Publish enqueues events for every matching subscription. It never blocks on handlers.
func (h *Hub) Publish(_ context.Context, events ...Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	for _, ev := range events {
		eventsPublished.WithLabelValues(ev.Table).Inc()
		for _, sub := range h.topics[ev.Topic] {
			sub.enqueue(ev)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close releases every subscription; later Subscribe/Publish calls fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, subs := range h.topics {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[sub.topic]
	if subs == nil {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     uint64
	topic  string
	filter Filter
	fn     Handler
	hub    *Hub

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	once sync.Once
	done chan struct{}
}

func (s *Subscription) Topic() string { return s.topic }

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops delivery; queued events that were not yet delivered are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		s.cond.Broadcast()
		subscriptionsActive.Dec()
	})
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			if s.isClosed() {
				return
			}
			s.deliver(ev)
		}
	}
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) deliver(ev Event) {
	matched := false
	err := safe.Call(func() error {
		if s.filter != nil && !s.filter(ev) {
			return nil
		}
		matched = true
		return s.fn(ev)
	})
	if !matched && err == nil {
		return
	}
	if err != nil {
		handlerFailures.Inc()
		s.hub.log.Warn("feed handler failed, event dropped",
			zap.String("topic", ev.Topic), zap.String("table", ev.Table),
			zap.String("key", ev.Key), zap.Error(err))
		return
	}
	eventsDelivered.Inc()
}
