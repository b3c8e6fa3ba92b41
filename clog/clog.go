// Package clog 为 modlink 提供基于 slog 的结构化日志组件。
//
// 所有组件通过 WithLogger 接收一个 clog.Logger，并在其上追加自己的命名空间，
// 例如 "modlink.session"、"modlink.authgw"。未注入时组件使用 Discard()。
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"})
//	logger.Info("session connected", clog.String("url", url))
//
// 带 Context 的日志会自动附带 OpenTelemetry 的 trace_id / span_id：
//
//	logger.InfoContext(ctx, "refresh finished")
package clog

import "fmt"

// New 创建一个新的 Logger 实例，config 为 nil 时使用开发环境默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}
