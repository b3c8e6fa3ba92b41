package config

import (
	"context"
	"strings"

	"github.com/ceyewan/modlink/clog"
)

const defaultEnvPrefix = "MODLINK"

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "config"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型，默认 "yaml"
	EnvPrefix string   // 环境变量前缀，默认 "MODLINK"
	// Env 环境名，非空时优先于 <PREFIX>_ENV
	Env string
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "config"
	}
	if len(c.Paths) == 0 {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = defaultEnvPrefix
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// Option 配置加载器的选项函数
type Option func(*options)

type options struct {
	logger   clog.Logger
	defaults map[string]any
}

func defaultOptions() *options {
	return &options{logger: clog.Discard()}
}

// WithLogger 注入日志记录器，自动追加 "config" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("config")
		}
	}
}

// WithDefaults 设置默认值，优先级最低
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) {
		o.defaults = defaults
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(&c, o), nil
}

// MustLoad 创建并加载配置，失败时 panic。仅用于初始化阶段。
func MustLoad(cfg *Config, opts ...Option) Loader {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	if err := l.Load(context.Background()); err != nil {
		panic(err)
	}
	return l
}
