package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var fired []string
	m.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	m.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	m.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, start.Add(2*time.Second), m.Now())

	next, ok := m.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, next)
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Now())
	called := false
	timer := m.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	m.Advance(time.Minute)
	assert.False(t, called)
	assert.Equal(t, 0, m.Pending())
}

func TestManualRescheduleFromCallback(t *testing.T) {
	m := NewManual(time.Now())
	count := 0
	var tick func()
	tick = func() {
		count++
		m.AfterFunc(time.Second, tick)
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(time.Second)
	assert.Equal(t, 1, count)
	m.Advance(time.Second)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, m.Pending())
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
