// Package moderation 实现审核锁协调器：维护本地正在查看的事件集合（ViewingSet），
// 把查看意图转换为协议帧经会话发出，并把服务端下发的锁公告解码后分发给订阅者。
//
// 服务端是锁状态的唯一权威。协调器额外维护一份 eventId -> 持有者 的派生缓存，
// 每次连接建立或断开时整体失效。
//
//	c, _ := moderation.New(&moderation.Config{Session: session.Config{URL: wsURL}}, transport)
//	c.On(moderation.KindEventLocked, func(e moderation.Event) { ... })
//	c.Connect()
//	c.StartViewing("e1")
package moderation

import (
	"context"
	"sort"
	"sync"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/dispatch"
	"github.com/ceyewan/modlink/metrics"
	"github.com/ceyewan/modlink/protocol"
	"github.com/ceyewan/modlink/session"
	"github.com/ceyewan/modlink/trace"
	"github.com/ceyewan/modlink/xerrors"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ceyewan/modlink/moderation"

// Subscription 订阅句柄
type Subscription = dispatch.Subscription[Kind]

// Coordinator 锁协调器，可并发使用
type Coordinator struct {
	session  *session.Session
	events   *dispatch.Dispatcher[Kind, Event]
	logger   clog.Logger
	tracer   oteltrace.Tracer
	reassert bool

	received  metrics.Counter
	discarded metrics.Counter
	viewingG  metrics.Gauge

	mu      sync.Mutex
	viewing map[string]struct{}
	locks   map[string]string
}

// New 创建协调器及其底层会话，不会立即连接
func New(cfg *Config, transport session.Transport, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, session.ErrInvalidConfig
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Coordinator{
		logger:   o.logger.WithNamespace("moderation"),
		tracer:   otel.Tracer(tracerName),
		reassert: cfg.ReassertOnReconnect,
		viewing:  make(map[string]struct{}),
		locks:    make(map[string]string),
	}
	c.events = dispatch.New[Kind, Event](Kinds,
		dispatch.WithLogger(o.logger),
		dispatch.WithMeter(o.meter),
		dispatch.WithName("moderation"),
	)
	c.received = metrics.NewCounter(o.meter, MetricFramesReceived, "Number of inbound lock-protocol frames")
	c.discarded = metrics.NewCounter(o.meter, MetricFramesDiscarded, "Number of inbound frames dropped as malformed or unknown")
	c.viewingG = metrics.NewGauge(o.meter, MetricViewing, "Number of events currently viewed")

	sopts := []session.Option{session.WithLogger(o.logger), session.WithMeter(o.meter)}
	if o.clock != nil {
		sopts = append(sopts, session.WithClock(o.clock))
	}
	s, err := session.New(&cfg.Session, transport, sessionHandler{c}, sopts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create session")
	}
	c.session = s
	return c, nil
}

// Connect 建立连接（后台进行），结果以 open / close / error 事件通知
func (c *Coordinator) Connect() {
	c.session.Connect()
}

// Disconnect 为所有正在查看的事件发送 unview_event，清空 ViewingSet 与锁缓存，然后干净地关闭会话
func (c *Coordinator) Disconnect() {
	for _, id := range c.Viewing() {
		c.send(protocol.UnviewEvent(id))
	}

	c.mu.Lock()
	c.viewing = make(map[string]struct{})
	c.locks = make(map[string]string)
	c.mu.Unlock()
	c.viewingG.Set(context.Background(), 0)

	c.session.Disconnect()
}

// State 返回底层会话状态
func (c *Coordinator) State() session.State {
	return c.session.State()
}

// Connected 是否处于已连接状态
func (c *Coordinator) Connected() bool {
	return c.session.State() == session.StateConnected
}

// StartViewing 声明正在查看事件，已在查看时仍会重发 view_event。返回帧是否写出。
func (c *Coordinator) StartViewing(eventID string) bool {
	if eventID == "" {
		c.logger.Warn("start viewing ignored: empty event id")
		return false
	}
	c.mu.Lock()
	c.viewing[eventID] = struct{}{}
	n := len(c.viewing)
	c.mu.Unlock()
	c.viewingG.Set(context.Background(), float64(n))

	return c.send(protocol.ViewEvent(eventID))
}

// StopViewing 取消查看并发送 unview_event
func (c *Coordinator) StopViewing(eventID string) bool {
	if eventID == "" {
		return false
	}
	c.mu.Lock()
	delete(c.viewing, eventID)
	n := len(c.viewing)
	c.mu.Unlock()
	c.viewingG.Set(context.Background(), float64(n))

	return c.send(protocol.UnviewEvent(eventID))
}

// Viewing 返回按字典序排列的 ViewingSet 快照
func (c *Coordinator) Viewing() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.viewing))
	for id := range c.viewing {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// NotifyUpdated 广播事件已被修改，不影响 ViewingSet
func (c *Coordinator) NotifyUpdated(eventID string) bool {
	return c.send(protocol.EventUpdated(eventID))
}

// NotifyDeleted 广播事件已被删除，不影响 ViewingSet
func (c *Coordinator) NotifyDeleted(eventID string) bool {
	return c.send(protocol.EventDeleted(eventID))
}

// RequestCurrentLocks 请求当前锁快照，结果以逐条 event_locked 事件到达
func (c *Coordinator) RequestCurrentLocks() bool {
	return c.send(protocol.RequestLocks())
}

// On 订阅事件
func (c *Coordinator) On(kind Kind, fn func(Event)) (Subscription, error) {
	return c.events.On(kind, fn)
}

// Off 取消订阅
func (c *Coordinator) Off(sub Subscription) bool {
	return c.events.Off(sub)
}

// OnLocked 订阅锁定公告的便捷方法
func (c *Coordinator) OnLocked(fn func(eventID, lockedBy string)) (Subscription, error) {
	return c.On(KindEventLocked, func(e Event) { fn(e.EventID, e.LockedBy) })
}

// OnUnlocked 订阅解锁公告的便捷方法
func (c *Coordinator) OnUnlocked(fn func(eventID string)) (Subscription, error) {
	return c.On(KindEventUnlocked, func(e Event) { fn(e.EventID) })
}

// LockHolder 返回派生缓存中事件的锁持有者
func (c *Coordinator) LockHolder(eventID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	holder, ok := c.locks[eventID]
	return holder, ok
}

// Locks 返回派生锁缓存的副本
func (c *Coordinator) Locks() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.locks))
	for k, v := range c.locks {
		out[k] = v
	}
	return out
}

// send 在发送端 Span 内写出一帧
func (c *Coordinator) send(frame protocol.Outbound) bool {
	_, span := trace.StartProducerSpan(context.Background(), c.tracer, c.spanMeta(string(frame.Type), frame.EventID))
	defer span.End()
	ok := c.session.Send(frame)
	if !ok {
		trace.MarkSpanError(span, errFrameDropped)
	}
	return ok
}

func (c *Coordinator) spanMeta(messageType, eventID string) trace.MessagingMeta {
	return trace.MessagingMeta{
		System:      trace.MessagingSystemWebSocket,
		Destination: c.session.URL(),
		MessageType: messageType,
		EventID:     eventID,
	}
}

func (c *Coordinator) resetLocks() {
	c.mu.Lock()
	c.locks = make(map[string]string)
	c.mu.Unlock()
}

func (c *Coordinator) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	_, span := trace.StartConsumerSpan(context.Background(), c.tracer, c.spanMeta(string(frame.Type), frame.EventID))
	defer span.End()
	if err != nil {
		trace.MarkSpanError(span, err)
		reason := "malformed"
		if xerrors.Is(err, protocol.ErrUnknownType) {
			reason = "unknown_type"
		}
		c.discarded.Inc(context.Background(), metrics.L(LabelReason, reason))
		c.logger.Warn("inbound frame discarded", clog.String("reason", reason), clog.Error(err))
		return
	}
	c.received.Inc(context.Background(), metrics.L(LabelType, string(frame.Type)))

	c.mu.Lock()
	switch frame.Type {
	case protocol.TypeEventLocked:
		if frame.EventID != "" {
			c.locks[frame.EventID] = frame.LockedBy
		}
	case protocol.TypeEventUnlocked, protocol.TypeEventDeleted:
		delete(c.locks, frame.EventID)
	}
	c.mu.Unlock()

	c.events.Emit(Kind(frame.Type), eventFromFrame(frame))
}

// sessionHandler 把会话回调转换为协调器事件
type sessionHandler struct {
	c *Coordinator
}

func (h sessionHandler) OnOpen() {
	c := h.c
	c.resetLocks()
	if c.reassert {
		for _, id := range c.Viewing() {
			c.send(protocol.ViewEvent(id))
		}
	}
	c.logger.Info("moderation channel open", clog.Int("viewing", len(c.Viewing())))
	c.events.Emit(KindOpen, Event{Kind: KindOpen})
}

func (h sessionHandler) OnClose(code int, reason string) {
	h.c.resetLocks()
	h.c.events.Emit(KindClose, Event{Kind: KindClose, Code: code, Reason: reason})
}

func (h sessionHandler) OnError(err error) {
	h.c.events.Emit(KindError, Event{Kind: KindError, Err: err})
}

func (h sessionHandler) OnMessage(data []byte) {
	h.c.handleFrame(data)
}
