package feed

import (
	"context"
	"encoding/json"
	"time"

	"moodchat/logger"
	"moodchat/service/kafka"
	"moodchat/service/natsx"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const relayBiz = "feed"

// Deduper remembers event ids for a while. natsx.NewMemIdem satisfies it.
type Deduper interface {
	SeenOnce(key string, ttl time.Duration) (bool, error)
}

// NatsBus relays events through one NATS subject. Every node subscribes
// without a queue group, so each node's hub receives every event.
type NatsBus struct {
	mgr *natsx.NatsManager
	pub *natsx.NatsxSyncPublisher
	log *zap.Logger
}

// NewNatsBus registers the relay subject on mgr. Duplicate suppression is the
// job of the manager's middleware (natsx.NatsxIdemMiddleware).
func NewNatsBus(mgr *natsx.NatsManager, subject string) (*NatsBus, error) {
	if subject == "" {
		subject = "moodchat.feed"
	}
	if err := mgr.RegisterRoute(natsx.NatsxRoute{Biz: relayBiz, Subject: subject, Mode: natsx.Core}); err != nil {
		return nil, err
	}
	return &NatsBus{
		mgr: mgr,
		pub: &natsx.NatsxSyncPublisher{P: mgr.Producer(), Retries: 3, Backoff: 100 * time.Millisecond},
		log: logger.Named("feed.nats"),
	}, nil
}

// Publish sends events in order, each carrying its ID as Nats-Msg-Id.
func (b *NatsBus) Publish(ctx context.Context, events ...Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := b.pub.PublishOnce(ctx, relayBiz, data, nil, ev.ID()); err != nil {
			return err
		}
	}
	return nil
}

// Run feeds relayed events into sink until ctx is done.
func (b *NatsBus) Run(ctx context.Context, sink Publisher) error {
	err := b.mgr.Subscribe(relayBiz, func(ctx context.Context, msg natsx.NatsxMessage) error {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn("malformed relay event", zap.Error(err))
			return nil
		}
		return sink.Publish(ctx, ev)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// KafkaBus relays events through one Kafka topic keyed by feed topic, so the
// order of one feed topic is the order of one partition. Each node consumes
// with its own group and therefore sees every event.
type KafkaBus struct {
	cli    *kafka.Client
	nodeID string
	seen   Deduper
	ttl    time.Duration
	log    *zap.Logger
}

func NewKafkaBus(cli *kafka.Client, nodeID string, seen Deduper) *KafkaBus {
	return &KafkaBus{cli: cli, nodeID: nodeID, seen: seen, ttl: 2 * time.Minute, log: logger.Named("feed.kafka")}
}

func (b *KafkaBus) Publish(_ context.Context, events ...Event) error {
	topic := b.cli.Config().Topic
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:   topic,
			Key:     sarama.StringEncoder(ev.Topic),
			Value:   sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{{Key: []byte(natsx.MsgIDHeader), Value: []byte(ev.ID())}},
		})
	}
	return b.cli.SendBatch(msgs)
}

// Run consumes the relay topic into sink until ctx is done.
func (b *KafkaBus) Run(ctx context.Context, sink Publisher) error {
	cfg := b.cli.Config()
	group := cfg.GroupPrefix + "-" + b.nodeID
	return kafka.Consume(ctx, cfg, group, []string{cfg.Topic}, func(_ string, _, value []byte) error {
		var ev Event
		if err := json.Unmarshal(value, &ev); err != nil {
			b.log.Warn("malformed relay event", zap.Error(err))
			return nil
		}
		if b.seen != nil {
			if dup, _ := b.seen.SeenOnce(ev.ID(), b.ttl); dup {
				return nil
			}
		}
		return sink.Publish(ctx, ev)
	})
}
