// Package dispatch 实现按事件类型分组的同步发布/订阅。
//
// 处理函数按注册顺序在 Emit 的调用方 goroutine 中依次执行；单个处理函数 panic
// 会被恢复并记录，不影响同一次 Emit 中后续的处理函数，也不会传播给调用方。
//
// 基本使用：
//
//	d := dispatch.New[string, Event]([]string{"open", "close"})
//	sub, _ := d.On("open", func(e Event) { ... })
//	d.Emit("open", Event{})
//	d.Off(sub)
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
)

// Handler 事件处理函数
type Handler[P any] func(P)

// Subscription 是 On 返回的订阅句柄，Off 按句柄身份移除
type Subscription[K comparable] struct {
	kind K
	id   uint64
}

// Kind 返回订阅的事件类型
func (s Subscription[K]) Kind() K { return s.kind }

type entry[P any] struct {
	id uint64
	fn Handler[P]
}

// Dispatcher 事件分发器，可并发使用
type Dispatcher[K comparable, P any] struct {
	mu       sync.RWMutex
	handlers map[K][]entry[P]
	fixed    bool
	nextID   uint64

	logger clog.Logger
	panics metrics.Counter
	emits  metrics.Counter
	name   string
}

// New 创建分发器。kinds 非空时只允许订阅这些类型，否则任意类型都可订阅。
func New[K comparable, P any](kinds []K, opts ...Option) *Dispatcher[K, P] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	d := &Dispatcher[K, P]{
		handlers: make(map[K][]entry[P], len(kinds)),
		fixed:    len(kinds) > 0,
		logger:   o.logger.With(clog.String("dispatcher", o.name)),
		name:     o.name,
	}
	for _, k := range kinds {
		d.handlers[k] = nil
	}

	d.panics = metrics.NewCounter(o.meter, MetricHandlerPanics, "Number of recovered handler panics")
	d.emits = metrics.NewCounter(o.meter, MetricEmitted, "Number of emitted events")
	return d
}

// On 为 kind 注册处理函数，注册顺序即投递顺序
func (d *Dispatcher[K, P]) On(kind K, fn Handler[P]) (Subscription[K], error) {
	if fn == nil {
		return Subscription[K]{}, ErrNilHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list, ok := d.handlers[kind]
	if d.fixed && !ok {
		return Subscription[K]{}, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	d.nextID++
	sub := Subscription[K]{kind: kind, id: d.nextID}
	d.handlers[kind] = append(list, entry[P]{id: sub.id, fn: fn})
	return sub, nil
}

// Off 移除订阅，返回是否确实移除了处理函数
func (d *Dispatcher[K, P]) Off(sub Subscription[K]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[sub.kind]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry[P], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		d.handlers[sub.kind] = next
		return true
	}
	return false
}

// Emit 同步地把 payload 投递给 kind 的所有处理函数
func (d *Dispatcher[K, P]) Emit(kind K, payload P) {
	d.mu.RLock()
	list := d.handlers[kind]
	d.mu.RUnlock()

	d.emits.Inc(context.Background(), metrics.L(LabelDispatcher, d.name), metrics.L(LabelKind, fmt.Sprint(kind)))

	// Off 总是替换切片而不是原地修改，这里读到的 list 是一份稳定快照
	for _, e := range list {
		d.invoke(kind, e, payload)
	}
}

func (d *Dispatcher[K, P]) invoke(kind K, e entry[P], payload P) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				clog.String("kind", fmt.Sprint(kind)),
				clog.Int64("subscription", int64(e.id)),
				clog.Any("panic", r),
				clog.String("stack", string(debug.Stack())),
			)
			d.panics.Inc(context.Background(), metrics.L(LabelDispatcher, d.name), metrics.L(LabelKind, fmt.Sprint(kind)))
		}
	}()
	e.fn(payload)
}

// Len 返回 kind 当前的订阅数
func (d *Dispatcher[K, P]) Len(kind K) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind])
}
