// Package backoff 提供无状态的指数退避策略：delay = Base × 2^(attempt-1)。
package backoff

import (
	"math"
	"time"

	"github.com/ceyewan/modlink/xerrors"
)

const (
	DefaultBase        = time.Second
	DefaultMaxAttempts = 5
	// NoRetry 作为 MaxAttempts 时关闭自动重连
	NoRetry = -1
)

// ErrInvalidConfig 配置非法
var ErrInvalidConfig = xerrors.New("backoff: invalid config")

// Config 指数退避配置
type Config struct {
	// Base 第一次重试前的等待时间，默认 1s
	Base time.Duration `json:"base" yaml:"base" mapstructure:"base"`
	// MaxAttempts 最多自动重试次数。0 取默认值 5，负数（如 NoRetry）表示从不自动重试
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	// Max 单次等待的上限，0 表示不设上限
	Max time.Duration `json:"max" yaml:"max" mapstructure:"max"`
}

func (c *Config) setDefaults() {
	if c.Base == 0 {
		c.Base = DefaultBase
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

func (c *Config) validate() error {
	if c.Base < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "base must be positive, got %s", c.Base)
	}
	if c.Max < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "max must be >= 0, got %s", c.Max)
	}
	return nil
}

// Exponential 指数退避策略，只读、可并发使用
type Exponential struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
}

// New 创建指数退避策略，cfg 为 nil 时使用默认值
func New(cfg *Config) (*Exponential, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &Exponential{base: c.Base, max: c.Max, maxAttempts: max(c.MaxAttempts, 0)}, nil
}

// Default 返回 1s 起步、最多 5 次的默认策略
func Default() *Exponential {
	return &Exponential{base: DefaultBase, maxAttempts: DefaultMaxAttempts}
}

// Delay 返回第 attempt 次重试（从 1 开始）前的等待时间
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	var d time.Duration
	if shift >= 62 || e.base > time.Duration(math.MaxInt64>>uint(shift)) {
		d = time.Duration(math.MaxInt64)
	} else {
		d = e.base << uint(shift)
	}
	if e.max > 0 && d > e.max {
		d = e.max
	}
	return d
}

// Allowed 判断第 attempt 次重试是否仍在上限内
func (e *Exponential) Allowed(attempt int) bool {
	return attempt >= 1 && attempt <= e.maxAttempts
}

// MaxAttempts 返回重试上限，关闭重试时为 0
func (e *Exponential) MaxAttempts() int {
	return e.maxAttempts
}
