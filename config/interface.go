// Package config 为 modlink 提供统一的配置管理能力，基于 Viper 实现。
//
// 配置优先级：环境变量 > .env > 环境特定配置（config.<env>.yaml）> 基础配置（config.yaml）> 默认值。
// 环境由 Config.Env 或 <PREFIX>_ENV 环境变量选择。配置文件变化时通过 Watch 通知。
//
// 基本使用：
//
//	loader := config.MustLoad(&config.Config{Paths: []string{"./config"}},
//		config.WithDefaults(map[string]any{"log.level": "info"}))
//
//	var gw authgw.Config
//	_ = loader.UnmarshalKey("gateway", &gw)
//
//	ch, _ := loader.Watch(ctx, "log.level")
//	for event := range ch {
//		logger.Info("config changed", clog.String("key", event.Key), clog.Any("value", event.Value))
//	}
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 加载配置并开始监听文件变化
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// GetString 获取字符串配置值
	GetString(key string) string

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听配置变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error

	// ConfigFileUsed 返回实际读取的基础配置文件，未找到时为空
	ConfigFileUsed() string
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
