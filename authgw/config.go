package authgw

import (
	"net/url"
	"strings"
	"time"

	"github.com/ceyewan/modlink/xerrors"
)

// Config 认证网关配置
type Config struct {
	// BaseURL REST 基地址，例如 http://localhost:3000/api，endpoint 直接拼接在其后
	BaseURL     string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	LoginPath   string `json:"login_path" yaml:"login_path" mapstructure:"login_path"`
	RefreshPath string `json:"refresh_path" yaml:"refresh_path" mapstructure:"refresh_path"`
	LogoutPath  string `json:"logout_path" yaml:"logout_path" mapstructure:"logout_path"`

	// Timeout 单次 HTTP 往返超时（默认 10s）
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	// RefreshTimeout 刷新请求超时，刷新运行在与调用方无关的上下文上（默认 10s）
	RefreshTimeout time.Duration `json:"refresh_timeout" yaml:"refresh_timeout" mapstructure:"refresh_timeout"`

	// RateLimit 客户端每秒请求数上限，0 表示不限流
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" mapstructure:"rate_burst"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig 出站请求熔断配置。网络错误与 5xx 计为失败。
type BreakerConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxRequests     uint32        `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`
	Interval        time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	FailureRatio    float64       `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`
	MinimumRequests uint32        `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.LoginPath == "" {
		c.LoginPath = "/auth/login"
	}
	if c.RefreshPath == "" {
		c.RefreshPath = "/auth/refresh"
	}
	if c.LogoutPath == "" {
		c.LogoutPath = "/auth/logout"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 10 * time.Second
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	b := &c.Breaker
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.Interval <= 0 {
		b.Interval = time.Minute
	}
	if b.Timeout <= 0 {
		b.Timeout = 30 * time.Second
	}
	if b.FailureRatio <= 0 {
		b.FailureRatio = 0.6
	}
	if b.MinimumRequests == 0 {
		b.MinimumRequests = 10
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return xerrors.Wrap(ErrInvalidConfig, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return xerrors.Wrapf(ErrInvalidConfig, "base_url must be http(s), got %q", c.BaseURL)
	}
	if u.Host == "" {
		return xerrors.Wrap(ErrInvalidConfig, "base_url missing host")
	}
	if c.RateLimit < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "rate_limit must not be negative")
	}
	if c.Breaker.FailureRatio > 1 {
		return xerrors.Wrap(ErrInvalidConfig, "breaker.failure_ratio must be within (0, 1]")
	}
	return nil
}
