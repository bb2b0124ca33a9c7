// Package config loads AppConfig from a YAML file, an optional nacos
// document and MOODCHAT_* environment variables, in that order of precedence.
package config

import (
	"time"

	"moodchat/data/database/mgo/mongoutil"
	"moodchat/data/store/pgstore"
	"moodchat/service/kafka"
	"moodchat/service/nacos"
	"moodchat/service/natsx"
	"moodchat/service/storage/redis"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	RelayNone  = "none"
	RelayNats  = "nats"
	RelayKafka = "kafka"
)

type AppConfig struct {
	NodeID   int64             `json:"node_id"` // 雪花节点号，同时作为 presence / kafka group 的节点标识
	HTTP     HTTPConfig        `json:"http"`
	Store    StoreConfig       `json:"store"`
	Mongo    mongoutil.Config  `json:"mongo"`
	Postgres pgstore.Config    `json:"postgres"`
	Redis    redis.Config      `json:"redis"` // addr 为空时使用内存实现
	Feed     FeedConfig        `json:"feed"`
	Nats     natsx.NatsxConfig `json:"nats"`
	Kafka    kafka.Config      `json:"kafka"`
	Auth     AuthConfig        `json:"auth"`
	Ops      OpsConfig         `json:"ops"`
	Nacos    nacos.Config      `json:"nacos"`
	Log      LogConfig         `json:"log"`
}

type HTTPConfig struct {
	Addr            string        `json:"addr"`
	AdvertiseIP     string        `json:"advertise_ip"` // 注册到 nacos 的地址
	AllowOrigins    []string      `json:"allow_origins"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver string `json:"driver"` // memory|mongo|postgres
}

type FeedConfig struct {
	Relay   string `json:"relay"` // none|nats|kafka
	Subject string `json:"subject"`
}

type AuthConfig struct {
	Secret         string        `json:"secret"` // 签发 access token
	Alg            string        `json:"alg"`
	TTL            time.Duration `json:"ttl"`
	ProviderSecret string        `json:"provider_secret"` // 校验外部账号 token，默认同 Secret
	ProviderAlg    string        `json:"provider_alg"`
}

type OpsConfig struct {
	Timeout     time.Duration `json:"timeout"`
	SearchLimit int           `json:"search_limit"`
	IdemTTL     time.Duration `json:"idem_ttl"`
	PresenceTTL time.Duration `json:"presence_ttl"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func (c *AppConfig) setDefaults() {
	if c.NodeID == 0 {
		c.NodeID = 1
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Feed.Relay == "" {
		c.Feed.Relay = RelayNone
	}
	if c.Feed.Subject == "" {
		c.Feed.Subject = "moodchat.feed"
	}
	if c.Auth.Alg == "" {
		c.Auth.Alg = "HS256"
	}
	if c.Auth.TTL == 0 {
		c.Auth.TTL = 2 * time.Hour
	}
	if c.Auth.ProviderSecret == "" {
		c.Auth.ProviderSecret = c.Auth.Secret
	}
	if c.Auth.ProviderAlg == "" {
		c.Auth.ProviderAlg = c.Auth.Alg
	}
	if c.Ops.Timeout == 0 {
		c.Ops.Timeout = 5 * time.Second
	}
	if c.Ops.SearchLimit <= 0 {
		c.Ops.SearchLimit = 10
	}
	if c.Ops.IdemTTL == 0 {
		c.Ops.IdemTTL = 24 * time.Hour
	}
	if c.Ops.PresenceTTL == 0 {
		c.Ops.PresenceTTL = 2 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
