// Package testkit 提供测试共用的依赖：日志、指标、上下文、唯一 ID，
// 以及内存 Redis 与说锁协议的 WebSocket 后端。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx      context.Context
	Logger   clog.Logger
	Meter    metrics.Meter
	Registry *prometheus.Registry
}

// NewKit 返回一个包含默认依赖的测试工具包，Meter 绑定独立的 Registry 便于断言
func NewKit(t *testing.T) *Kit {
	t.Helper()
	reg := prometheus.NewRegistry()
	meter := NewMeter(t, reg)
	ctx, cancel := NewContext(t, 30*time.Second)
	t.Cleanup(cancel)
	return &Kit{
		Ctx:      ctx,
		Logger:   NewLogger(),
		Meter:    meter,
		Registry: reg,
	}
}

// NewLogger 返回一个用于测试的 logger，输出到开发环境格式，适合本地调试
func NewLogger() clog.Logger {
	cfg := clog.NewDevDefaultConfig()
	cfg.Level = "warn"
	logger, err := clog.New(cfg, clog.WithNamespace("test"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回绑定到 reg 的 meter，不启动 HTTP 端口
func NewMeter(t *testing.T, reg *prometheus.Registry) metrics.Meter {
	t.Helper()
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "test"}, metrics.WithRegistry(reg))
	if err != nil {
		t.Logf("metrics disabled: %v", err)
		return metrics.Discard()
	}
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)，用于生成事件 ID、用户 ID 或 Redis 键后缀
func NewID() string {
	return uuid.New().String()[0:8]
}
