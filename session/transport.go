package session

import (
	"context"
	"fmt"
)

// 关闭码
const (
	// CloseNormal 主动、干净的关闭，不触发自动重连
	CloseNormal = 1000
	// CloseAbnormal 连接异常断开（未收到关闭帧、拨号失败等）
	CloseAbnormal = 1006
)

// Transport 打开到固定端点的全双工消息连接
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn 单条消息连接。ReadMessage 只会被一个 goroutine 调用，
// WriteMessage 与 Close 由会话串行化。
type Conn interface {
	// ReadMessage 阻塞读取下一帧；对端关闭时返回 *CloseError
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close 发送关闭帧并释放底层连接
	Close(code int, reason string) error
}

// CloseError 描述连接被关闭的原因
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session: closed with code %d", e.Code)
	}
	return fmt.Sprintf("session: closed with code %d: %s", e.Code, e.Reason)
}

// Handler 接收会话事件。回调在会话内部 goroutine 中执行，不持有会话锁，
// 可以在回调里调用 Send / Connect / Disconnect。
type Handler interface {
	OnOpen()
	OnClose(code int, reason string)
	OnError(err error)
	// OnMessage 按传输层收到的顺序依次调用
	OnMessage(data []byte)
}
