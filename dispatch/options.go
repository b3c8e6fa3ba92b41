package dispatch

import (
	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
)

// Option 配置 Dispatcher 的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	name   string
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		name:   "default",
	}
}

// WithLogger 注入日志记录器，自动追加 "dispatch" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("dispatch")
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

// WithName 设置分发器名称，作为日志字段和指标标签
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}
