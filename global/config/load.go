package config

import (
	"fmt"
	"os"
	"strings"

	"moodchat/logger"
	"moodchat/service/nacos"
	"moodchat/tools/decode"
	"moodchat/tools/errs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀；嵌套字段用双下划线分隔，例如 MOODCHAT_MONGO__MAX_POOL_SIZE
const EnvPrefix = "MOODCHAT_"

// Loader 组合配置来源，测试时可替换
type Loader struct {
	Environ func() []string
	Remote  func(c nacos.Config) (string, error)
}

// Load 读取 .env（若存在）后按默认来源加载
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("load .env", zap.Error(err))
	}
	return Loader{Environ: os.Environ, Remote: fetchNacos}.Load(path)
}

func (l Loader) Load(path string) (*AppConfig, error) {
	base, err := readYAMLFile(path)
	if err != nil {
		return nil, err
	}
	env := l.envMap()

	// 先用 file+env 判断是否启用 nacos
	early, err := build(merge(clone(base), env))
	if err != nil {
		return nil, err
	}
	if early.Nacos.Enabled && l.Remote != nil {
		doc, err := l.Remote(early.Nacos)
		if err != nil {
			return nil, errs.WrapMsg(err, "load nacos config")
		}
		remote, err := parseYAML([]byte(doc))
		if err != nil {
			return nil, errs.WrapMsg(err, "parse nacos config")
		}
		base = merge(base, remote)
	}
	return build(merge(base, env))
}

// Reload 以新的远程文档重建配置（nacos 推送时使用）
func (l Loader) Reload(path, remoteDoc string) (*AppConfig, error) {
	base, err := readYAMLFile(path)
	if err != nil {
		return nil, err
	}
	remote, err := parseYAML([]byte(remoteDoc))
	if err != nil {
		return nil, err
	}
	return build(merge(merge(base, remote), l.envMap()))
}

func build(raw map[string]any) (*AppConfig, error) {
	var cfg AppConfig
	if err := decode.Map(raw, &cfg); err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("decode config", "cause", err.Error())
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验枚举与必填项
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreMongo, StorePostgres:
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown store driver", "driver", c.Store.Driver)
	}
	switch c.Feed.Relay {
	case RelayNone, RelayNats, RelayKafka:
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown feed relay", "relay", c.Feed.Relay)
	}
	// 内存存储只服务单节点，且在写锁内同步发布事件；不能挂在 broker 上
	if c.Store.Driver == StoreMemory && c.Feed.Relay != RelayNone {
		return errs.ErrInvalidArgument.WrapMsg("memory store cannot use a feed relay", "relay", c.Feed.Relay)
	}
	if c.Auth.Secret == "" {
		return errs.ErrInvalidArgument.WrapMsg("auth.secret is required")
	}
	if c.Store.Driver == StorePostgres && c.Postgres.DSN == "" {
		return errs.ErrInvalidArgument.WrapMsg("postgres.dsn is required")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errs.ErrInvalidArgument.WrapMsg("node_id out of range", "node_id", c.NodeID)
	}
	return nil
}

func readYAMLFile(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapMsg(err, "read config file", "path", path)
	}
	return parseYAML(b)
}

func parseYAML(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return out, nil
}

// envMap 把 MOODCHAT_A__B_C=v 转成 {"a": {"b_c": "v"}}
func (l Loader) envMap() map[string]any {
	out := map[string]any{}
	if l.Environ == nil {
		return out
	}
	for _, kv := range l.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "__")
		node := out
		for _, p := range path[:len(path)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[p] = next
			}
			node = next
		}
		node[path[len(path)-1]] = v
	}
	return out
}

// merge 把 over 深度合并进 dst 并返回 dst
func merge(dst, over map[string]any) map[string]any {
	for k, v := range over {
		if om, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = merge(dm, om)
				continue
			}
			dst[k] = merge(map[string]any{}, om)
			continue
		}
		dst[k] = v
	}
	return dst
}

func clone(m map[string]any) map[string]any {
	return merge(map[string]any{}, m)
}

func fetchNacos(c nacos.Config) (string, error) {
	cli, err := nacos.NewConfigClient(c)
	if err != nil {
		return "", err
	}
	return nacos.NewSource(cli, c).Fetch()
}
