package identity

import (
	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/clog"
)

// Option 配置身份存储的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	clock  clock.Clock
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		clock:  clock.Real{},
	}
}

// WithLogger 注入日志记录器，自动追加 "identity" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("identity")
		}
	}
}

// WithClock 替换判断过期所用的时间源
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
