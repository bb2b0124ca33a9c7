// Package nacos wraps the nacos config and naming clients: a remote YAML
// overlay for the application config and registration of this node.
package nacos

import (
	"errors"
	"fmt"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

type Config struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host"`
	Port      uint64 `json:"port"`
	Namespace string `json:"namespace"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TimeoutMs uint64 `json:"timeout_ms"`
	LogLevel  string `json:"log_level"`
	CacheDir  string `json:"cache_dir"`
	LogDir    string `json:"log_dir"`

	DataID string `json:"data_id"` // 远程配置（YAML）
	Group  string `json:"group"`

	Service string `json:"service"` // 注册到 naming 的服务名
}

func (c *Config) norm() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8848
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.CacheDir == "" {
		c.CacheDir = "nacos/cache"
	}
	if c.LogDir == "" {
		c.LogDir = "nacos/log"
	}
	if c.Group == "" {
		c.Group = "DEFAULT_GROUP"
	}
	if c.DataID == "" {
		c.DataID = "moodchat.yaml"
	}
	if c.Service == "" {
		c.Service = "moodchat"
	}
}

func (c Config) param() vo.NacosClientParam {
	cc := constant.NewClientConfig(
		constant.WithNamespaceId(c.Namespace),
		constant.WithTimeoutMs(c.TimeoutMs),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel(c.LogLevel),
		constant.WithCacheDir(c.CacheDir),
		constant.WithLogDir(c.LogDir),
		constant.WithUsername(c.Username),
		constant.WithPassword(c.Password),
	)
	return vo.NacosClientParam{
		ClientConfig:  cc,
		ServerConfigs: []constant.ServerConfig{*constant.NewServerConfig(c.Host, c.Port)},
	}
}

var ErrDisabled = errors.New("nacos disabled")

func NewConfigClient(c Config) (config_client.IConfigClient, error) {
	if !c.Enabled {
		return nil, ErrDisabled
	}
	c.norm()
	cli, err := clients.NewConfigClient(c.param())
	if err != nil {
		return nil, fmt.Errorf("create nacos config client: %w", err)
	}
	return cli, nil
}

func NewNamingClient(c Config) (naming_client.INamingClient, error) {
	if !c.Enabled {
		return nil, ErrDisabled
	}
	c.norm()
	cli, err := clients.NewNamingClient(c.param())
	if err != nil {
		return nil, fmt.Errorf("create nacos naming client: %w", err)
	}
	return cli, nil
}
