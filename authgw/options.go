package authgw

import (
	"context"
	"net/http"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
)

// IdentityStore 刷新失败时需要登出的本地身份
type IdentityStore interface {
	Logout(ctx context.Context) error
}

// Option 配置 Gateway 的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	client *http.Client
	store  IdentityStore
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 注入日志记录器，自动追加 "authgw" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("authgw")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithHTTPClient 使用自定义 HTTP 客户端。客户端的 Jar 即为凭据来源；
// 未设置 Jar 时网关会为其补一个。
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithIdentityStore 注入本地身份存储
func WithIdentityStore(s IdentityStore) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}
