package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ceyewan/modlink/trace"
	"github.com/ceyewan/modlink/xerrors"
)

// WebSocketConfig gorilla/websocket 传输配置
type WebSocketConfig struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	// ReadLimit 单帧最大字节数，0 表示不限制
	ReadLimit int64 `json:"read_limit" yaml:"read_limit" mapstructure:"read_limit"`
	// Jar 握手时附带的 Cookie，通常与 authgw.Gateway.Jar() 共享
	Jar    http.CookieJar `json:"-" yaml:"-" mapstructure:"-"`
	Header http.Header    `json:"-" yaml:"-" mapstructure:"-"`
}

// WebSocketTransport 基于 gorilla/websocket 的 Transport 实现
type WebSocketTransport struct {
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	readLimit    int64
}

// NewWebSocketTransport 创建 WebSocket 传输，cfg 为 nil 时使用默认值
func NewWebSocketTransport(cfg *WebSocketConfig) *WebSocketTransport {
	c := WebSocketConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.HandshakeTimeout,
			Jar:              c.Jar,
		},
		header:       c.Header.Clone(),
		writeTimeout: c.WriteTimeout,
		readLimit:    c.ReadLimit,
	}
}

// Dial 完成 WebSocket 握手。认证信息由 Cookie Jar 在握手请求中携带，链路追踪上下文注入到请求头。
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	header := t.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	trace.InjectHTTP(ctx, header)

	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, xerrors.Wrapf(ErrDial, "handshake status %d: %v", resp.StatusCode, err)
		}
		return nil, xerrors.Wrap(ErrDial, err.Error())
	}
	if t.readLimit > 0 {
		conn.SetReadLimit(t.readLimit)
	}
	return &wsConn{conn: conn, writeTimeout: t.writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if xerrors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		if werr != nil && werr != websocket.ErrCloseSent {
			werr = fmt.Errorf("write close frame: %w", werr)
		} else {
			werr = nil
		}
		c.closeErr = xerrors.Combine(werr, c.conn.Close())
	})
	return c.closeErr
}
