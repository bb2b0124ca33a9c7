package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"moodchat/service/nacos"
	"moodchat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
node_id: 7
http:
  addr: ":9000"
  allow_origins: ["https://a.example"]
store:
  driver: mongo
mongo:
  address: ["m1:27017"]
  database: moodchat
  max_pool_size: 50
auth:
  secret: s3cret
  ttl: 30m
ops:
  timeout: 3s
nacos:
  enabled: false
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func env(kv ...string) func() []string {
	return func() []string { return kv }
}

func TestLoadFileWithDefaults(t *testing.T) {
	cfg, err := Loader{Environ: env()}.Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.EqualValues(t, 7, cfg.NodeID)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://a.example"}, cfg.HTTP.AllowOrigins)
	assert.Equal(t, StoreMongo, cfg.Store.Driver)
	assert.Equal(t, []string{"m1:27017"}, cfg.Mongo.Address)
	assert.Equal(t, 50, cfg.Mongo.MaxPoolSize)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TTL)
	assert.Equal(t, "s3cret", cfg.Auth.ProviderSecret)
	assert.Equal(t, 3*time.Second, cfg.Ops.Timeout)

	// defaults
	assert.Equal(t, 10, cfg.Ops.SearchLimit)
	assert.Equal(t, RelayNone, cfg.Feed.Relay)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2*time.Hour, cfg.Ops.PresenceTTL)
}

func TestEnvOverridesFile(t *testing.T) {
	l := Loader{Environ: env(
		"MOODCHAT_NODE_ID=9",
		"MOODCHAT_MONGO__MAX_POOL_SIZE=80",
		"MOODCHAT_OPS__TIMEOUT=250ms",
		"MOODCHAT_KAFKA__BROKERS=k1:9092,k2:9092",
		"MOODCHAT_FEED__RELAY=kafka",
		"OTHER_VAR=ignored",
	)}
	cfg, err := l.Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.EqualValues(t, 9, cfg.NodeID)
	assert.Equal(t, 80, cfg.Mongo.MaxPoolSize)
	assert.Equal(t, "moodchat", cfg.Mongo.Database)
	assert.Equal(t, 250*time.Millisecond, cfg.Ops.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, RelayKafka, cfg.Feed.Relay)
}

func TestNacosOverlaySitsBetweenFileAndEnv(t *testing.T) {
	var asked nacos.Config
	l := Loader{
		Environ: env("MOODCHAT_NACOS__ENABLED=true", "MOODCHAT_LOG__LEVEL=debug"),
		Remote: func(c nacos.Config) (string, error) {
			asked = c
			return "ops:\n  search_limit: 25\nlog:\n  level: warn\nstore:\n  driver: memory\n", nil
		},
	}
	cfg, err := l.Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.True(t, asked.Enabled)
	assert.Equal(t, 25, cfg.Ops.SearchLimit)
	assert.Equal(t, StoreMemory, cfg.Store.Driver, "remote overrides file")
	assert.Equal(t, "debug", cfg.Log.Level, "env overrides remote")
	assert.Equal(t, 3*time.Second, cfg.Ops.Timeout, "file value survives")
}

func TestReload(t *testing.T) {
	path := writeFile(t, sample)
	cfg, err := Loader{Environ: env()}.Reload(path, "log:\n  level: error\n")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	_, err := Loader{Environ: env()}.Load("")
	assert.True(t, errs.ErrInvalidArgument.Is(err), "secret is required")

	_, err = Loader{Environ: env("MOODCHAT_AUTH__SECRET=x", "MOODCHAT_STORE__DRIVER=sqlite")}.Load("")
	assert.True(t, errs.ErrInvalidArgument.Is(err))

	_, err = Loader{Environ: env("MOODCHAT_AUTH__SECRET=x", "MOODCHAT_STORE__DRIVER=postgres")}.Load("")
	assert.True(t, errs.ErrInvalidArgument.Is(err), "postgres needs a dsn")

	_, err = Loader{Environ: env("MOODCHAT_AUTH__SECRET=x", "MOODCHAT_FEED__RELAY=nats")}.Load("")
	assert.True(t, errs.ErrInvalidArgument.Is(err), "memory store is single node")

	cfg, err := Loader{Environ: env("MOODCHAT_AUTH__SECRET=x")}.Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
}

func TestMergeIsDeep(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}
	merge(dst, map[string]any{"a": map[string]any{"y": 3}, "c": 4})
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 3}, "b": 1, "c": 4}, dst)
}
