// Package session 维护到固定端点的单条持久连接：连接、心跳、异常断开后的指数退避重连、干净关闭。
//
// 状态机：
//
//	Disconnected --Connect--> Connecting --拨号成功--> Connected
//	Connected --异常关闭且未达上限--> Reconnecting --延迟到期--> Connecting
//	Connected --异常关闭且已达上限--> Disconnected（不再自动重连）
//	任意状态 --Disconnect--> Closing --> Closed
//
// 发送是至多一次的：未连接时 Send 直接丢弃，不排队。
package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/modlink/backoff"
	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
	"github.com/ceyewan/modlink/protocol"
	"github.com/ceyewan/modlink/trace"
	"github.com/ceyewan/modlink/xerrors"
)

const (
	clientDisconnectReason = "client disconnecting"
	tracerName             = "github.com/ceyewan/modlink/session"
)

// Session 连接会话，可并发使用
type Session struct {
	url          string
	pingInterval time.Duration
	dialTimeout  time.Duration

	transport Transport
	handler   Handler
	policy    *backoff.Exponential
	clock     clock.Clock
	logger    clog.Logger
	tracer    oteltrace.Tracer

	connects   metrics.Counter
	reconnects metrics.Counter
	sent       metrics.Counter
	dropped    metrics.Counter
	connected  metrics.Gauge

	mu             sync.Mutex
	state          State
	attempts       int
	gen            uint64 // 每次 Connect / Disconnect 递增，用于识别过期回调
	conn           Conn
	dialCancel     context.CancelFunc
	reconnectTimer clock.Timer
	pingTimer      clock.Timer

	writeMu sync.Mutex
}

// New 创建连接会话，不会立即拨号
func New(cfg *Config, transport Transport, handler Handler, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if transport == nil || handler == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "transport and handler are required")
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	policy, err := backoff.New(&c.Backoff)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Session{
		url:          c.URL,
		pingInterval: c.PingInterval,
		dialTimeout:  c.DialTimeout,
		transport:    transport,
		handler:      handler,
		policy:       policy,
		clock:        o.clock,
		logger:       o.logger.With(clog.String("url", c.URL)),
		tracer:       otel.Tracer(tracerName),
		state:        StateDisconnected,
	}
	s.connects = metrics.NewCounter(o.meter, MetricConnects, "Number of connection attempts")
	s.reconnects = metrics.NewCounter(o.meter, MetricReconnects, "Number of scheduled reconnects")
	s.sent = metrics.NewCounter(o.meter, MetricFramesSent, "Number of frames written to the transport")
	s.dropped = metrics.NewCounter(o.meter, MetricFramesDropped, "Number of frames dropped while not connected")
	s.connected = metrics.NewGauge(o.meter, MetricConnected, "1 while the session is connected")
	return s, nil
}

// URL 返回会话端点
func (s *Session) URL() string { return s.url }

// State 返回当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts 返回自上次成功连接以来已安排的重连次数
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connect 开始建立连接。正在连接或已连接时为空操作；处于 Reconnecting 时取消等待立即拨号。
// 拨号在后台进行，结果通过 Handler 通知。
func (s *Session) Connect() {
	s.mu.Lock()
	start := s.connectLocked()
	s.mu.Unlock()
	if start != nil {
		start()
	}
}

func (s *Session) connectLocked() func() {
	if s.state == StateConnecting || s.state == StateConnected {
		return nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	s.state = StateConnecting
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	s.dialCancel = cancel
	attempt := s.attempts

	return func() {
		s.logger.Debug("dialing", clog.Int("attempt", attempt))
		go s.dial(ctx, cancel, gen)
	}
}

func (s *Session) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	// 握手请求头携带这个 Span 的 traceparent
	ctx, span := s.tracer.Start(ctx, "ws.dial",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(attribute.String("url.full", s.url)))
	conn, err := s.transport.Dial(ctx, s.url)
	trace.MarkSpanError(span, err)
	span.End()
	cancel()

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return
	}
	s.dialCancel = nil

	if err != nil {
		s.mu.Unlock()
		s.connects.Inc(context.Background(), metrics.L(LabelOutcome, metrics.OutcomeError))
		s.logger.Warn("dial failed", clog.Error(err))
		s.handler.OnError(err)
		s.handleClose(gen, CloseAbnormal, err.Error())
		return
	}

	s.conn = conn
	s.state = StateConnected
	s.attempts = 0
	s.schedulePingLocked(gen)
	s.mu.Unlock()

	s.connects.Inc(context.Background(), metrics.L(LabelOutcome, metrics.OutcomeSuccess))
	s.connected.Set(context.Background(), 1)
	s.logger.Info("session connected")

	// OnOpen 先于任何入站帧投递
	s.handler.OnOpen()
	go s.readLoop(gen, conn)
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code, reason := CloseAbnormal, err.Error()
			var ce *CloseError
			if xerrors.As(err, &ce) {
				code, reason = ce.Code, ce.Reason
			} else if s.current(gen) {
				s.handler.OnError(err)
			}
			s.handleClose(gen, code, reason)
			return
		}
		if !s.current(gen) {
			return
		}
		s.handler.OnMessage(data)
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.state == StateConnected
}

// handleClose 处理传输层关闭（含拨号失败），决定是否安排重连
func (s *Session) handleClose(gen uint64, code int, reason string) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.pingTimer != nil {
		s.pingTimer.Stop()
		s.pingTimer = nil
	}
	conn := s.conn
	s.conn = nil

	var delay time.Duration
	retry := code != CloseNormal && s.policy.Allowed(s.attempts+1)
	if retry {
		s.attempts++
		delay = s.policy.Delay(s.attempts)
		s.state = StateReconnecting
		s.reconnectTimer = s.clock.AfterFunc(delay, func() { s.reconnect(gen) })
	} else {
		s.state = StateDisconnected
	}
	attempts := s.attempts
	s.mu.Unlock()

	if conn != nil {
		s.connected.Set(context.Background(), 0)
		s.writeMu.Lock()
		_ = conn.Close(CloseNormal, "")
		s.writeMu.Unlock()
	}

	fields := []clog.Field{clog.Int("code", code), clog.String("reason", reason), clog.Int("attempt", attempts)}
	switch {
	case retry:
		s.reconnects.Inc(context.Background())
		s.logger.Warn("session closed, reconnect scheduled", append(fields, clog.Duration("delay", delay))...)
	case code == CloseNormal:
		s.logger.Info("session closed by peer", fields...)
	default:
		s.logger.Error("session closed, reconnect attempts exhausted", fields...)
	}

	s.handler.OnClose(code, reason)
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	start := s.connectLocked()
	s.mu.Unlock()
	if start != nil {
		start()
	}
}

func (s *Session) schedulePingLocked(gen uint64) {
	if s.pingInterval <= 0 {
		return
	}
	s.pingTimer = s.clock.AfterFunc(s.pingInterval, func() {
		s.mu.Lock()
		if gen != s.gen || s.state != StateConnected {
			s.mu.Unlock()
			return
		}
		s.schedulePingLocked(gen)
		s.mu.Unlock()
		s.Send(protocol.Ping())
	})
}

// Send 编码并发送一帧，仅在 Connected 时写出；返回是否写出成功
func (s *Session) Send(frame protocol.Outbound) bool {
	data, err := protocol.Encode(frame)
	if err != nil {
		s.logger.Error("encode frame failed", clog.String("type", string(frame.Type)), clog.Error(err))
		return false
	}

	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	typeLabel := metrics.L(LabelType, string(frame.Type))
	if state != StateConnected || conn == nil {
		s.dropped.Inc(context.Background(), typeLabel, metrics.L(LabelReason, state.String()))
		s.logger.Debug("frame dropped", clog.String("type", string(frame.Type)), clog.String("state", state.String()))
		return false
	}

	s.writeMu.Lock()
	err = conn.WriteMessage(data)
	s.writeMu.Unlock()
	if err != nil {
		// 写失败意味着连接已损坏，读循环会收到错误并驱动重连
		s.dropped.Inc(context.Background(), typeLabel, metrics.L(LabelReason, "write_error"))
		s.logger.Warn("write frame failed", clog.String("type", string(frame.Type)), clog.Error(err))
		return false
	}
	s.sent.Inc(context.Background(), typeLabel)
	return true
}

// Disconnect 干净地关闭会话：抑制后续自动重连、停止心跳、以 1000 关闭连接，最终进入 Closed。
// 返回前所有定时器都已停止。
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.attempts = s.policy.MaxAttempts()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.pingTimer != nil {
		s.pingTimer.Stop()
		s.pingTimer = nil
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = StateClosing
	s.gen++
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		if err := conn.Close(CloseNormal, clientDisconnectReason); err != nil {
			s.logger.Debug("close transport", clog.Error(err))
		}
		s.writeMu.Unlock()
		s.connected.Set(context.Background(), 0)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.logger.Info("session disconnected")

	if conn != nil {
		s.handler.OnClose(CloseNormal, clientDisconnectReason)
	}
}
