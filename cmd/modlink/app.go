package main

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/ceyewan/modlink/authgw"
	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/config"
	"github.com/ceyewan/modlink/identity"
	"github.com/ceyewan/modlink/metrics"
	"github.com/ceyewan/modlink/moderation"
	"github.com/ceyewan/modlink/session"
	"github.com/ceyewan/modlink/trace"
	"github.com/ceyewan/modlink/xerrors"
)

const serviceName = "modlink"

// appConfig 对应 config.yaml 的顶层结构
type appConfig struct {
	Log        clog.Config             `mapstructure:"log"`
	Metrics    metrics.Config          `mapstructure:"metrics"`
	Trace      trace.Config            `mapstructure:"trace"`
	API        authgw.Config           `mapstructure:"api"`
	Moderation moderation.Config       `mapstructure:"moderation"`
	WebSocket  session.WebSocketConfig `mapstructure:"websocket"`
	Identity   identity.RedisConfig    `mapstructure:"identity"`
}

var defaults = map[string]any{
	"log.level":            "info",
	"log.format":           "console",
	"log.output":           "stderr",
	"metrics.enabled":      false,
	"metrics.service_name": serviceName,
	"metrics.path":         "/metrics",
	"trace.enabled":        false,
	"trace.service_name":   serviceName,
	"trace.endpoint":       "localhost:4317",
	"trace.sampler":        1.0,
	"trace.insecure":       true,
	"api.base_url":         "http://localhost:3000/api",
}

// app 持有一次命令执行所需的全部组件
type app struct {
	cfg         appConfig
	loader      config.Loader
	logger      clog.Logger
	meter       metrics.Meter
	gateway     *authgw.Gateway
	store       identity.Store
	coordinator *moderation.Coordinator

	closers []func(context.Context) error
}

func loadConfig(ctx context.Context, dir, env string) (config.Loader, *appConfig, error) {
	loader, err := config.New(&config.Config{
		Name:     "config",
		Paths:    []string{dir},
		FileType: "yaml",
		Env:      env,
	}, config.WithDefaults(defaults))
	if err != nil {
		return nil, nil, err
	}
	if err := loader.Load(ctx); err != nil {
		return nil, nil, err
	}

	var cfg appConfig
	sections := []struct {
		key string
		v   any
	}{
		{"log", &cfg.Log},
		{"metrics", &cfg.Metrics},
		{"trace", &cfg.Trace},
		{"api", &cfg.API},
		{"moderation", &cfg.Moderation},
		{"websocket", &cfg.WebSocket},
		{"identity", &cfg.Identity},
	}
	for _, s := range sections {
		if err := loader.UnmarshalKey(s.key, s.v); err != nil {
			return nil, nil, err
		}
	}
	return loader, &cfg, nil
}

// newApp 按 config -> logger -> meter -> tracer -> identity -> gateway -> coordinator 的顺序装配
func newApp(ctx context.Context, dir, env string) (*app, error) {
	loader, cfg, err := loadConfig(ctx, dir, env)
	if err != nil {
		return nil, xerrors.Wrap(err, "load config")
	}

	logger, err := clog.New(&cfg.Log, clog.WithNamespace(serviceName))
	if err != nil {
		return nil, xerrors.Wrap(err, "create logger")
	}
	a := &app{cfg: *cfg, loader: loader, logger: logger}

	meter, err := metrics.New(&cfg.Metrics, metrics.WithLogger(logger))
	if err != nil {
		return nil, xerrors.Wrap(err, "create meter")
	}
	a.meter = meter
	a.closers = append(a.closers, meter.Shutdown)
	if cfg.Metrics.Enabled {
		// Go 运行时指标走 metrics.New 安装的全局 MeterProvider
		if err := runtime.Start(); err != nil {
			logger.Warn("start runtime metrics failed", clog.Error(err))
		}
	}

	if cfg.Trace.Environment == "" {
		cfg.Trace.Environment = env
	}
	shutdownTrace, err := trace.Init(&cfg.Trace)
	if err != nil {
		a.close(ctx)
		return nil, xerrors.Wrap(err, "init tracer")
	}
	a.closers = append(a.closers, shutdownTrace)

	if err := a.buildIdentity(); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.gateway, err = authgw.New(&cfg.API,
		authgw.WithLogger(logger),
		authgw.WithMeter(meter),
		authgw.WithIdentityStore(a.store),
	)
	if err != nil {
		a.close(ctx)
		return nil, xerrors.Wrap(err, "create gateway")
	}

	modCfg := cfg.Moderation
	if modCfg.Session.URL == "" {
		endpoint, err := moderation.EndpointFromAPI(cfg.API.BaseURL)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		modCfg.Session.URL = endpoint
	}
	wsCfg := cfg.WebSocket
	wsCfg.Jar = a.gateway.Jar()
	a.coordinator, err = moderation.New(&modCfg, session.NewWebSocketTransport(&wsCfg),
		moderation.WithLogger(logger),
		moderation.WithMeter(meter),
	)
	if err != nil {
		a.close(ctx)
		return nil, xerrors.Wrap(err, "create coordinator")
	}

	// 刷新被拒绝时网关登出身份，锁通道随之断开
	a.store.OnLogout(a.coordinator.Disconnect)
	return a, nil
}

func (a *app) buildIdentity() error {
	if a.cfg.Identity.Addr == "" {
		a.store = identity.NewMemoryStore(identity.WithLogger(a.logger))
		return nil
	}
	client, err := identity.NewRedisClient(&a.cfg.Identity)
	if err != nil {
		return err
	}
	store, err := identity.NewRedisStore(client, &a.cfg.Identity, identity.WithLogger(a.logger))
	if err != nil {
		_ = client.Close()
		return xerrors.Wrap(err, "create redis identity store")
	}
	a.store = store
	a.closers = append(a.closers, closeRedis(client))
	return nil
}

func closeRedis(client *redis.Client) func(context.Context) error {
	return func(context.Context) error { return client.Close() }
}

// watchLogLevel 跟随配置文件热更新日志级别
func (a *app) watchLogLevel(ctx context.Context) {
	ch, err := a.loader.Watch(ctx, "log.level")
	if err != nil {
		a.logger.Warn("watch log level failed", clog.Error(err))
		return
	}
	go func() {
		for ev := range ch {
			raw, _ := ev.Value.(string)
			level, err := clog.ParseLevel(raw)
			if err != nil {
				a.logger.Warn("invalid log level in config", clog.String("level", raw))
				continue
			}
			if err := a.logger.SetLevel(level); err != nil {
				a.logger.Warn("set log level failed", clog.Error(err))
				continue
			}
			a.logger.Info("log level changed", clog.String("level", raw))
		}
	}()
}

// login 登录并把令牌与用户资料写入身份存储
func (a *app) login(ctx context.Context, email, password string) (*identity.Session, error) {
	res, err := a.gateway.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	var user identity.User
	if len(res.User) > 0 {
		if err := json.Unmarshal(res.User, &user); err != nil {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "decode user: "+err.Error())
		}
	}
	if err := a.store.Login(ctx, res.Token, user); err != nil {
		return nil, err
	}
	return a.store.Current(ctx)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown component failed", clog.Error(err))
		}
	}
	a.closers = nil
	a.logger.Flush()
}
