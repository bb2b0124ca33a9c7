package main

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"moodchat/data/store/memstore"
	"moodchat/data/store/mgostore"
	"moodchat/data/store/pgstore"
	"moodchat/global/config"
	"moodchat/logger"
	midsec "moodchat/middleware/security"
	"moodchat/module/api"
	"moodchat/module/feed"
	"moodchat/module/identity"
	"moodchat/module/message"
	"moodchat/module/room"
	"moodchat/module/session"
	"moodchat/module/social"
	"moodchat/service/chat"
	"moodchat/service/kafka"
	"moodchat/service/mgo"
	"moodchat/service/nacos"
	"moodchat/service/natsx"
	"moodchat/service/storage"
	"moodchat/service/storage/redis"
	"moodchat/tools/errs"
	"moodchat/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend 同时满足各个 service 的 DB 接口
type backend interface {
	identity.DB
	social.DB
	room.DB
	message.DB
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// relay 跨节点转发 feed 事件
type relay interface {
	feed.Publisher
	Run(ctx context.Context, sink feed.Publisher) error
}

type app struct {
	cfg *config.AppConfig

	hub      *feed.Hub
	db       backend
	mongo    *mgo.Manager
	nats     *natsx.NatsManager
	kafka    *kafka.Client
	redisOn  bool
	sessions *session.Manager
	gateway  *chat.Gateway
	server   *api.Server
	registry *nacos.Registry
}

func bootstrap(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg, hub: feed.NewHub()}
	nodeID := strconv.FormatInt(cfg.NodeID, 10)

	// 1) feed：有 relay 时变更先进总线，再由每个节点的 Run 投递到本地 hub
	var pub feed.Publisher = a.hub
	bus, err := a.openRelay(ctx, nodeID)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if bus != nil {
		pub = bus
		go func() {
			if err := bus.Run(ctx, a.hub); err != nil && ctx.Err() == nil {
				logger.Error("feed relay stopped", zap.Error(err))
			}
		}()
	}

	// 2) 存储
	if err := a.openStore(ctx, pub); err != nil {
		a.close(ctx)
		return nil, err
	}

	// 3) presence / 幂等 token / session 记录
	var (
		presence storage.Presence     = storage.NewMemPresence()
		tokens   storage.TokenStore   = storage.NewMemTokenStore()
		stored   storage.SessionStore = storage.NewMemSessionStore()
	)
	if cfg.Redis.Addr != "" {
		if err := redis.InitRedis(ctx, cfg.Redis); err != nil {
			a.close(ctx)
			return nil, errs.WrapMsg(err, "connect redis", "addr", cfg.Redis.Addr)
		}
		a.redisOn = true
		presence = storage.NewRedisPresence(redis.GetRedis())
		stored = storage.NewRedisSessionStore(redis.GetRedis())
		tokens = storage.NewRedisTokenStore(redis.GetRedis())
	}

	// 4) services
	ident := identity.NewService(a.db, identity.Options{Timeout: cfg.Ops.Timeout, SearchLimit: cfg.Ops.SearchLimit})
	rooms := room.NewService(a.db, room.Options{Timeout: cfg.Ops.Timeout})
	a.sessions = session.NewManager(ident, rooms, a.hub, presence, session.Options{
		NodeID:      nodeID,
		PresenceTTL: cfg.Ops.PresenceTTL,
		Store:       stored,
		SessionTTL:  cfg.Auth.TTL,
	})

	access := security.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg, TTL: cfg.Auth.TTL}
	a.gateway = chat.NewGateway(a.sessions, midsec.DefaultOptions(access), chat.Options{AllowOrigins: cfg.HTTP.AllowOrigins})
	a.server = &api.Server{
		Identity:     ident,
		Social:       social.NewService(a.db, tokens, social.Options{Timeout: cfg.Ops.Timeout, TokenTTL: cfg.Ops.IdemTTL}),
		Rooms:        rooms,
		Messages:     message.NewService(a.db, message.Options{Timeout: cfg.Ops.Timeout}),
		Sessions:     a.sessions,
		Access:       access,
		Provider:     security.Options{Secret: []byte(cfg.Auth.ProviderSecret), Alg: cfg.Auth.ProviderAlg},
		SearchLimit:  cfg.Ops.SearchLimit,
		AllowOrigins: cfg.HTTP.AllowOrigins,
		Gateway:      a.gateway,
		Health:       a.db.Ping,
	}
	return a, nil
}

func (a *app) openRelay(ctx context.Context, nodeID string) (relay, error) {
	switch a.cfg.Feed.Relay {
	case config.RelayNats:
		mgr, err := natsx.NewNatsManager(a.cfg.Nats, natsx.NatsxIdemMiddleware(natsx.NewMemIdem(ctx, 2*time.Minute), 2*time.Minute))
		if err != nil {
			return nil, errs.WrapMsg(err, "connect nats")
		}
		a.nats = mgr
		return feed.NewNatsBus(mgr, a.cfg.Feed.Subject)
	case config.RelayKafka:
		cli, err := kafka.NewClient(a.cfg.Kafka)
		if err != nil {
			return nil, errs.WrapMsg(err, "connect kafka")
		}
		a.kafka = cli
		return feed.NewKafkaBus(cli, nodeID, natsx.NewMemIdem(ctx, 2*time.Minute)), nil
	default:
		return nil, nil
	}
}

func (a *app) openStore(ctx context.Context, pub feed.Publisher) error {
	switch a.cfg.Store.Driver {
	case config.StoreMongo:
		a.mongo = mgo.NewManager(&a.cfg.Mongo)
		a.mongo.StartAsync(ctx)
		wait, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		cli, err := a.mongo.WaitReady(wait)
		if err != nil {
			return errs.WrapMsg(err, "connect mongo")
		}
		db := mgostore.New(cli)
		if err := db.EnsureSchema(ctx); err != nil {
			return errs.WrapMsg(err, "ensure mongo schema")
		}
		a.db = db
		go runSource(ctx, "mongo change stream", db.NewWatcher(pub).Run)
	case config.StorePostgres:
		db, err := pgstore.Open(ctx, a.cfg.Postgres)
		if err != nil {
			return errs.WrapMsg(err, "connect postgres")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close(ctx)
			return errs.WrapMsg(err, "ensure postgres schema")
		}
		a.db = db
		go runSource(ctx, "postgres listener", db.NewListener(pub).Run)
	default:
		// 内存实现在写入时直接发布
		a.db = memstore.New(pub)
	}
	return nil
}

func runSource(ctx context.Context, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("change source stopped", zap.String("source", name), zap.Error(err))
	}
}

func (a *app) router() *gin.Engine {
	return a.server.NewRouter()
}

// register 把本节点注册到 nacos naming；未启用时跳过
func (a *app) register() {
	if !a.cfg.Nacos.Enabled {
		return
	}
	naming, err := nacos.NewNamingClient(a.cfg.Nacos)
	if err != nil {
		logger.Warn("nacos naming client", zap.Error(err))
		return
	}
	ip, port := a.advertise()
	reg := nacos.NewRegistry(naming, a.cfg.Nacos, ip, port)
	reg.SetMeta("node_id", strconv.FormatInt(a.cfg.NodeID, 10))
	reg.SetMeta("relay", a.cfg.Feed.Relay)
	if err := reg.Register(); err != nil {
		logger.Warn("nacos register", zap.Error(err))
		return
	}
	a.registry = reg
	if peers, err := reg.Peers(); err == nil {
		logger.Info("nacos registered", zap.String("ip", ip), zap.Uint64("port", port), zap.Strings("peers", peers))
	}
}

func (a *app) deregister() {
	if a.registry == nil {
		return
	}
	if err := a.registry.Deregister(); err != nil {
		logger.Warn("nacos deregister", zap.Error(err))
	}
}

func (a *app) advertise() (string, uint64) {
	host, p, err := net.SplitHostPort(a.cfg.HTTP.Addr)
	if err != nil {
		return a.cfg.HTTP.AdvertiseIP, 0
	}
	port, _ := strconv.ParseUint(p, 10, 64)
	if a.cfg.HTTP.AdvertiseIP != "" {
		host = a.cfg.HTTP.AdvertiseIP
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port
}

// watchConfig 监听 nacos 文档变化；目前只热更新日志级别，其它字段需重启
func (a *app) watchConfig(ctx context.Context, path string) {
	if !a.cfg.Nacos.Enabled {
		return
	}
	cli, err := nacos.NewConfigClient(a.cfg.Nacos)
	if err != nil {
		logger.Warn("nacos config client", zap.Error(err))
		return
	}
	loader := config.Loader{Environ: os.Environ}
	err = nacos.NewSource(cli, a.cfg.Nacos).Watch(ctx, func(doc string) {
		next, err := loader.Reload(path, doc)
		if err != nil {
			logger.Warn("reload config", zap.Error(err))
			return
		}
		logger.SetLevel(next.Log.Level)
		logger.Info("config reloaded", zap.String("log_level", next.Log.Level))
	})
	if err != nil {
		logger.Warn("nacos watch", zap.Error(err))
	}
}

func (a *app) close(ctx context.Context) {
	if a.sessions != nil {
		a.sessions.Close(ctx)
	}
	if a.gateway != nil {
		a.gateway.Close()
	}
	a.hub.Close()
	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.kafka != nil {
		_ = a.kafka.Close()
	}
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}
	if a.mongo != nil && a.db == nil {
		_ = a.mongo.Close(ctx)
	}
	if a.redisOn {
		_ = redis.CloseRedis()
	}
}
