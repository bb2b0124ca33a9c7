package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config 由 global/config 解码得到
type Config struct {
	Brokers             []string `json:"brokers"`
	Topic               string   `json:"topic"`
	GroupPrefix         string   `json:"group_prefix"`
	Partitions          int32    `json:"partitions"`
	ReplicationFactor   int16    `json:"replication_factor"`
	ProducerRetries     int      `json:"producer_retries"`
	ProducerCompression string   `json:"producer_compression"` // none/snappy/lz4/zstd
	InitialOffset       string   `json:"initial_offset"`       // newest/oldest
	Version             string   `json:"version"`
	AutoCreateTopic     bool     `json:"auto_create_topic"`
}

// Norm 填充默认值
func (c *Config) Norm() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"127.0.0.1:9092"}
	}
	if c.Topic == "" {
		c.Topic = "moodchat.feed"
	}
	if c.GroupPrefix == "" {
		c.GroupPrefix = "moodchat-feed"
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 5
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
}

// BuildBaseConfig 生成 sarama 配置
func BuildBaseConfig(c Config) (*sarama.Config, error) {
	c.Norm()
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka version %q: %w", c.Version, err)
	}

	cfg := sarama.NewConfig()
	cfg.Version = version

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.InitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	cfg.Net.MaxOpenRequests = 1 // 重试不乱序
	return cfg, nil
}
