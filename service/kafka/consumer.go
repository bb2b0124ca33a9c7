package kafka

import (
	"context"
	"errors"
	"time"

	"moodchat/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type consumerGroupHandler struct {
	handle MessageHandler
	log    *zap.Logger
}

func (h *consumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.Any("claims", s.Claims()))
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup")
	return nil
}

// ConsumeClaim 单个分区串行处理，保持分区内顺序
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(msg.Topic, msg.Key, msg.Value); err != nil {
			h.log.Warn("handler error", zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume 以 groupID 加入消费组，阻塞直到 ctx 结束
func Consume(ctx context.Context, c Config, groupID string, topics []string, handle MessageHandler) error {
	scfg, err := BuildBaseConfig(c)
	if err != nil {
		return err
	}
	c.Norm()
	group, err := sarama.NewConsumerGroup(c.Brokers, groupID, scfg)
	if err != nil {
		return err
	}
	defer group.Close()

	log := logger.Named("kafka").With(zap.String("group", groupID))
	go func() {
		for err := range group.Errors() {
			log.Warn("consumer group error", zap.Error(err))
		}
	}()

	h := &consumerGroupHandler{handle: handle, log: log}
	for {
		// rebalance 后 Consume 返回，需要重新加入
		if err := group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Warn("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
