package moderation

import (
	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
)

// Option 配置 Coordinator 的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	clock  clock.Clock
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 注入日志记录器，自动追加 "moderation" 命名空间；底层会话与分发器使用同一个 Logger
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
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

// WithClock 替换底层会话的时间源
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}
