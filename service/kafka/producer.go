package kafka

import (
	"github.com/Shopify/sarama"
)

// Client 持有 sarama.Client 与同步生产者
type Client struct {
	cfg      Config
	client   sarama.Client
	producer sarama.SyncProducer
}

// NewClient 连接集群，按需建 topic，并初始化同步生产者
func NewClient(c Config) (*Client, error) {
	c.Norm()
	scfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	if c.AutoCreateTopic {
		admin, err := sarama.NewClusterAdmin(c.Brokers, scfg)
		if err != nil {
			return nil, err
		}
		err = EnsureTopics(admin, []string{c.Topic}, c)
		_ = admin.Close()
		if err != nil {
			return nil, err
		}
	}
	cli, err := sarama.NewClient(c.Brokers, scfg)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducerFromClient(cli)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	return &Client{cfg: c, client: cli, producer: p}, nil
}

func (c *Client) Config() Config { return c.cfg }

// SendSync 同步发送；key 相同的消息落在同一分区
func (c *Client) SendSync(topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := c.producer.SendMessage(msg)
	return err
}

// SendBatch 同步批量发送，保持切片内顺序
func (c *Client) SendBatch(msgs []*sarama.ProducerMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.producer.SendMessages(msgs)
}

func (c *Client) Close() error {
	perr := c.producer.Close()
	cerr := c.client.Close()
	if perr != nil {
		return perr
	}
	return cerr
}
