package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDelays(t *testing.T) {
	p := Default()
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range want {
		attempt := i + 1
		assert.Equal(t, d, p.Delay(attempt), "attempt %d", attempt)
		assert.True(t, p.Allowed(attempt), "attempt %d", attempt)
	}
	assert.False(t, p.Allowed(6), "不应允许第 6 次重试")
	assert.False(t, p.Allowed(0))
	assert.Equal(t, 5, p.MaxAttempts())
}

func TestNew(t *testing.T) {
	t.Run("nil 使用默认值", func(t *testing.T) {
		p, err := New(nil)
		require.NoError(t, err)
		assert.Equal(t, time.Second, p.Delay(1))
		assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	})

	t.Run("上限截断", func(t *testing.T) {
		p, err := New(&Config{Base: 500 * time.Millisecond, MaxAttempts: 10, Max: 3 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, 500*time.Millisecond, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(3))
		assert.Equal(t, 3*time.Second, p.Delay(4))
		assert.Equal(t, 3*time.Second, p.Delay(9))
	})

	t.Run("非法配置", func(t *testing.T) {
		_, err := New(&Config{Base: -time.Second})
		assert.ErrorIs(t, err, ErrInvalidConfig)
		_, err = New(&Config{Max: -time.Second})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("负数关闭重试", func(t *testing.T) {
		for _, n := range []int{NoRetry, -7} {
			p, err := New(&Config{MaxAttempts: n})
			require.NoError(t, err)
			assert.Equal(t, 0, p.MaxAttempts())
			assert.False(t, p.Allowed(1))
		}
	})
}

func TestDelayClampsAttemptAndOverflow(t *testing.T) {
	p := Default()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(-3))
	assert.Greater(t, p.Delay(200), time.Duration(0))
}
