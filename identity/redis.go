package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/xerrors"
)

const defaultRedisKey = "modlink:identity"

// RedisConfig Redis 身份存储配置。Addr 为空时 CLI 使用进程内存储。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	Key      string `json:"key" yaml:"key" mapstructure:"key"`
}

func (c *RedisConfig) setDefaults() {
	if c.Key == "" {
		c.Key = defaultRedisKey
	}
}

// NewRedisClient 按配置创建 go-redis 客户端，命令通过全局 TracerProvider 生成 Span
func NewRedisClient(cfg *RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(err, "instrument redis tracing")
	}
	return client, nil
}

// RedisStore 以单个 Redis 键保存会话，令牌的 exp 作为键的 TTL，
// 同一用户的多个 CLI 进程共享登录状态。
type RedisStore struct {
	client redis.UniversalClient
	key    string
	logger clog.Logger
	clock  clock.Clock
	hooks  hooks
}

// NewRedisStore 创建 Redis 身份存储，client 由调用方管理生命周期
func NewRedisStore(client redis.UniversalClient, cfg *RedisConfig, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "identity: redis client is nil")
	}
	c := RedisConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &RedisStore{
		client: client,
		key:    c.Key,
		logger: o.logger.With(clog.String("key", c.Key)),
		clock:  o.clock,
	}, nil
}

func (r *RedisStore) Login(ctx context.Context, token string, user User) error {
	if token == "" {
		return ErrInvalidToken
	}
	s := newSession(token, user)

	var ttl time.Duration
	if !s.ExpiresAt.IsZero() {
		ttl = s.ExpiresAt.Sub(r.clock.Now())
		if ttl <= 0 {
			return xerrors.Wrap(ErrInvalidToken, "token already expired")
		}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return xerrors.Wrap(err, "encode session")
	}
	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return xerrors.Wrap(err, "store session")
	}
	r.logger.Info("identity stored", clog.String("user_id", user.ID), clog.Duration("ttl", ttl))
	return nil
}

func (r *RedisStore) Logout(ctx context.Context) error {
	err := r.client.Del(ctx, r.key).Err()
	if err != nil {
		r.logger.Error("identity clear failed", clog.Error(err))
		err = xerrors.Wrap(err, "delete session")
	} else {
		r.logger.Info("identity cleared")
	}
	r.hooks.fire()
	return err
}

func (r *RedisStore) Current(ctx context.Context) (*Session, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if xerrors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "load session")
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, xerrors.Wrap(err, "decode session")
	}
	if s.expired(r.clock.Now()) {
		return nil, ErrNoSession
	}
	return &s, nil
}

// UpdateUser 使用 WATCH 乐观事务修改，保留原 TTL
func (r *RedisStore) UpdateUser(ctx context.Context, fn func(*User)) error {
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, r.key).Bytes()
		if xerrors.Is(err, redis.Nil) {
			return ErrNoSession
		}
		if err != nil {
			return xerrors.Wrap(err, "load session")
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return xerrors.Wrap(err, "decode session")
		}
		fn(&s.User)
		updated, err := json.Marshal(&s)
		if err != nil {
			return xerrors.Wrap(err, "encode session")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, r.key, updated, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, r.key)
}

func (r *RedisStore) OnLogout(fn func()) { r.hooks.add(fn) }
