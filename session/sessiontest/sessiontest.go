// Package sessiontest 提供内存版的 session.Transport，用于在不建立网络连接的情况下驱动会话状态机。
package sessiontest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ceyewan/modlink/protocol"
	"github.com/ceyewan/modlink/session"
)

// ErrConnClosed 向已关闭的连接写入
var ErrConnClosed = errors.New("sessiontest: connection closed")

// Transport 记录每次拨号，并可按需让拨号失败
type Transport struct {
	mu       sync.Mutex
	dialErr  error
	failNext []error
	conns    []*Conn
	urls     []string
	dialed   chan *Conn
}

func NewTransport() *Transport {
	return &Transport{dialed: make(chan *Conn, 64)}
}

// FailDials 让之后的每次拨号都返回 err，传 nil 恢复
func (t *Transport) FailDials(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
}

// FailNext 让接下来的一次拨号返回 err
func (t *Transport) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = append(t.failNext, err)
}

func (t *Transport) Dial(ctx context.Context, url string) (session.Conn, error) {
	t.mu.Lock()
	t.urls = append(t.urls, url)
	if len(t.failNext) > 0 {
		err := t.failNext[0]
		t.failNext = t.failNext[1:]
		t.mu.Unlock()
		return nil, err
	}
	if t.dialErr != nil {
		err := t.dialErr
		t.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	c := newConn()
	t.conns = append(t.conns, c)
	t.mu.Unlock()

	select {
	case t.dialed <- c:
	default:
	}
	return c, nil
}

// Dials 返回拨号总次数（含失败）
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.urls)
}

// Conns 返回成功建立的连接
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// Last 返回最近一次成功建立的连接
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// WaitConn 等待下一条成功建立的连接
func (t *Transport) WaitConn(timeout time.Duration) *Conn {
	select {
	case c := <-t.dialed:
		return c
	case <-time.After(timeout):
		return nil
	}
}

type readEvent struct {
	data []byte
	err  error
}

// Conn 内存连接，服务端一侧通过 Deliver / Drop 模拟
type Conn struct {
	events chan readEvent
	done   chan struct{}

	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func newConn() *Conn {
	return &Conn{
		events: make(chan readEvent, 256),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case ev := <-c.events:
		return ev.data, ev.err
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, &session.CloseError{Code: c.closeCode, Reason: c.closeReason}
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
	return nil
}

// Deliver 模拟服务端下发一帧原始数据
func (c *Conn) Deliver(frame []byte) {
	c.events <- readEvent{data: frame}
}

// DeliverJSON 把 v 编码为 JSON 后下发
func (c *Conn) DeliverJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.Deliver(data)
}

// Drop 模拟服务端以 code 关闭连接
func (c *Conn) Drop(code int, reason string) {
	c.events <- readEvent{err: &session.CloseError{Code: code, Reason: reason}}
}

// Fail 模拟网络层读错误（非关闭帧）
func (c *Conn) Fail(err error) {
	c.events <- readEvent{err: err}
}

// Closed 返回客户端是否关闭了连接以及使用的关闭码
func (c *Conn) Closed() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// Sent 返回客户端写出的原始帧
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// SentFrames 把客户端写出的帧解码为 protocol.Outbound
func (c *Conn) SentFrames() []protocol.Outbound {
	raw := c.Sent()
	out := make([]protocol.Outbound, 0, len(raw))
	for _, data := range raw {
		var f protocol.Outbound
		if err := json.Unmarshal(data, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Recorder 是记录所有回调的 session.Handler
type Recorder struct {
	mu       sync.Mutex
	opens    int
	closes   []session.CloseError
	errs     []error
	messages [][]byte
}

func (r *Recorder) OnOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
}

func (r *Recorder) OnClose(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, session.CloseError{Code: code, Reason: reason})
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *Recorder) OnMessage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, data)
}

func (r *Recorder) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func (r *Recorder) Closes() []session.CloseError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.CloseError(nil), r.closes...)
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = string(m)
	}
	return out
}
