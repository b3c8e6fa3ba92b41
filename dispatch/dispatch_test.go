package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitOrder(t *testing.T) {
	d := New[string, int](nil)

	var got []string
	_, err := d.On("tick", func(v int) { got = append(got, "first") })
	require.NoError(t, err)
	_, err = d.On("tick", func(v int) { got = append(got, "second") })
	require.NoError(t, err)
	_, err = d.On("other", func(v int) { got = append(got, "other") })
	require.NoError(t, err)

	d.Emit("tick", 1)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestFixedKinds(t *testing.T) {
	d := New[string, int]([]string{"open", "close"})

	_, err := d.On("open", func(int) {})
	require.NoError(t, err)

	_, err = d.On("pong!", func(int) {})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = d.On("open", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	// 未订阅的合法类型可以正常 Emit
	d.Emit("close", 0)
	d.Emit("nobody", 0)
}

func TestOffByIdentity(t *testing.T) {
	d := New[string, string](nil)

	var got []string
	handler := func(tag string) Handler[string] {
		return func(string) { got = append(got, tag) }
	}
	a, _ := d.On("k", handler("a"))
	_, _ = d.On("k", handler("b"))
	c, _ := d.On("k", handler("c"))

	assert.True(t, d.Off(a))
	assert.False(t, d.Off(a), "重复取消应返回 false")
	assert.Equal(t, 2, d.Len("k"))

	d.Emit("k", "")
	assert.Equal(t, []string{"b", "c"}, got)

	assert.True(t, d.Off(c))
	assert.Equal(t, "k", c.Kind())
}

func TestPanicIsolation(t *testing.T) {
	d := New[string, string](nil)

	var got []string
	_, _ = d.On("event_locked", func(string) { got = append(got, "before") })
	_, _ = d.On("event_locked", func(string) { panic("ui exploded") })
	_, _ = d.On("event_locked", func(p string) { got = append(got, p) })

	assert.NotPanics(t, func() { d.Emit("event_locked", "e1") })
	assert.Equal(t, []string{"before", "e1"}, got)
}

func TestOffDuringEmit(t *testing.T) {
	d := New[string, int](nil)

	var got []string
	var second Subscription[string]
	_, _ = d.On("k", func(int) {
		got = append(got, "first")
		d.Off(second)
	})
	second, _ = d.On("k", func(int) { got = append(got, "second") })

	// 本次 Emit 使用快照，仍会调用 second
	d.Emit("k", 0)
	d.Emit("k", 0)
	assert.Equal(t, []string{"first", "second", "first"}, got)
}

func TestConcurrentSubscribeEmit(t *testing.T) {
	d := New[int, int](nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, err := d.On(1, func(int) {})
			if err == nil {
				d.Off(sub)
			}
		}()
		go func() {
			defer wg.Done()
			d.Emit(1, 0)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, d.Len(1))
}
