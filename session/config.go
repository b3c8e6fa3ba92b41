package session

import (
	"net/url"
	"time"

	"github.com/ceyewan/modlink/backoff"
	"github.com/ceyewan/modlink/xerrors"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)

// Config 连接会话配置
type Config struct {
	// URL ws:// 或 wss:// 端点
	URL string `json:"url" yaml:"url" mapstructure:"url"`
	// PingInterval 连接期间发送 ping 帧的间隔，默认 30s
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval" mapstructure:"ping_interval"`
	// DialTimeout 单次拨号超时，默认 10s
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	// Backoff 异常断开后的重连退避
	Backoff backoff.Config `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
}

func (c *Config) setDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return xerrors.Wrap(ErrInvalidConfig, "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return xerrors.Wrapf(ErrInvalidConfig, "parse url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return xerrors.Wrapf(ErrInvalidConfig, "url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.PingInterval < 0 || c.DialTimeout < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "durations must not be negative")
	}
	return nil
}
