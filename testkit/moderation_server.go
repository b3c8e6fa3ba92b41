package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/protocol"
	"github.com/ceyewan/modlink/trace"
)

// ModerationPath 审核锁 WebSocket 路径
const ModerationPath = "/ws/moderation"

// ModerationServer 说审核锁协议的内存后端：
// 第一个 view_event 的连接持有锁，其他连接收到 event_locked；
// unview_event、delete 或断开连接释放锁并广播 event_unlocked。
type ModerationServer struct {
	Mux *http.ServeMux

	srv      *httptest.Server
	upgrader websocket.Upgrader
	logger   clog.Logger

	mu       sync.Mutex
	clients  map[*modClient]struct{}
	locks    map[string]*modClient
	traceIDs map[string]string
}

type modClient struct {
	conn *websocket.Conn
	user string
	send chan []byte
	once sync.Once
}

func (c *modClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *modClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewModerationServer 启动后端，测试结束时关闭全部连接。
// 用户身份取自查询参数 user，其次是名为 session 的 Cookie。
func NewModerationServer(t *testing.T) *ModerationServer {
	t.Helper()
	s := &ModerationServer{
		Mux:      http.NewServeMux(),
		logger:   NewLogger().WithNamespace("moderation-server"),
		clients:  make(map[*modClient]struct{}),
		locks:    make(map[string]*modClient),
		traceIDs: make(map[string]string),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.Mux.HandleFunc(ModerationPath, s.handleWS)
	s.srv = httptest.NewServer(s.Mux)
	t.Cleanup(func() {
		s.DropAll(websocket.CloseGoingAway)
		s.srv.Close()
	})
	return s
}

// URL 返回 ws:// 形式的审核端点
func (s *ModerationServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + ModerationPath
}

// APIURL 返回同一服务器的 REST 基地址 (http://host/api)
func (s *ModerationServer) APIURL() string {
	return s.srv.URL + "/api"
}

// Locks 返回当前锁表快照 eventID -> user
func (s *ModerationServer) Locks() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.locks))
	for id, c := range s.locks {
		out[id] = c.user
	}
	return out
}

// Clients 当前连接数
func (s *ModerationServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// HandshakeTraceID 返回该用户最近一次握手请求头携带的 TraceID，未携带时为空
func (s *ModerationServer) HandshakeTraceID(user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceIDs[user]
}

// DropAll 以给定关闭码断开所有连接，模拟服务端重启
func (s *ModerationServer) DropAll(code int) {
	s.mu.Lock()
	clients := make([]*modClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "server drop"), deadline)
		_ = c.conn.Close()
	}
}

// Broadcast 向所有连接推送一帧，用于模拟 event_created 等服务端主动事件
func (s *ModerationServer) Broadcast(f protocol.Inbound) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.push(c, data)
	}
}

func (s *ModerationServer) handleWS(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		if cookie, err := r.Cookie("session"); err == nil {
			user = cookie.Value
		}
	}
	if user == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sc := oteltrace.SpanContextFromContext(trace.ExtractHTTP(r.Context(), r.Header))
	traceID := ""
	if sc.IsValid() {
		traceID = sc.TraceID().String()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", clog.Error(err))
		return
	}
	s.logger.Debug("client connected", clog.String("user", user), clog.String("trace_id", traceID))

	c := &modClient{conn: conn, user: user, send: make(chan []byte, 64)}
	go c.writePump()

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.traceIDs[user] = traceID
	s.mu.Unlock()

	defer s.removeClient(c)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f protocol.Outbound
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("malformed client frame", clog.Error(err))
			continue
		}
		s.handleFrame(c, f)
	}
}

func (s *ModerationServer) handleFrame(c *modClient, f protocol.Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f.Type {
	case protocol.TypeViewEvent:
		holder, locked := s.locks[f.EventID]
		if !locked {
			s.locks[f.EventID] = c
			s.broadcastExcept(c, protocol.Inbound{Type: protocol.TypeEventLocked, EventID: f.EventID, LockedBy: c.user})
			return
		}
		if holder != c {
			s.pushFrame(c, protocol.Inbound{Type: protocol.TypeEventLocked, EventID: f.EventID, LockedBy: holder.user})
		}
	case protocol.TypeUnviewEvent:
		if s.locks[f.EventID] == c {
			delete(s.locks, f.EventID)
			s.broadcastExcept(c, protocol.Inbound{Type: protocol.TypeEventUnlocked, EventID: f.EventID})
		}
	case protocol.TypeRequestLocks:
		for id, holder := range s.locks {
			if holder != c {
				s.pushFrame(c, protocol.Inbound{Type: protocol.TypeEventLocked, EventID: id, LockedBy: holder.user})
			}
		}
	case protocol.TypeEventUpdated:
		s.broadcastExcept(c, protocol.Inbound{Type: protocol.TypeEventUpdated, EventID: f.EventID})
	case protocol.TypeEventDeleted:
		if _, ok := s.locks[f.EventID]; ok {
			delete(s.locks, f.EventID)
			s.broadcastExcept(c, protocol.Inbound{Type: protocol.TypeEventUnlocked, EventID: f.EventID})
		}
		s.broadcastExcept(c, protocol.Inbound{Type: protocol.TypeEventDeleted, EventID: f.EventID})
	case protocol.TypePing:
		s.pushFrame(c, protocol.Inbound{Type: protocol.TypePong})
	default:
		s.logger.Warn("unknown client frame", clog.String("type", string(f.Type)))
	}
}

func (s *ModerationServer) removeClient(c *modClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c)
	for id, holder := range s.locks {
		if holder == c {
			delete(s.locks, id)
			s.broadcastExcept(c, protocol.Inbound{Type: protocol.TypeEventUnlocked, EventID: id})
		}
	}
	c.close()
}

// 以下方法要求调用方持有 s.mu

func (s *ModerationServer) broadcastExcept(from *modClient, f protocol.Inbound) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	for c := range s.clients {
		if c != from {
			s.push(c, data)
		}
	}
}

func (s *ModerationServer) pushFrame(c *modClient, f protocol.Inbound) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.push(c, data)
}

func (s *ModerationServer) push(c *modClient, data []byte) {
	select {
	case c.send <- data:
	default:
		s.logger.Warn("client send buffer full, frame dropped", clog.String("user", c.user))
	}
}
