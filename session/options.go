package session

import (
	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
)

// Option 配置 Session 的选项函数
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
		clock:  clock.Real{},
	}
}

// WithLogger 注入日志记录器，自动追加 "session" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("session")
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

// WithClock 替换时间源，测试中传入 clock.Manual
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
