package dispatch

import "github.com/ceyewan/modlink/xerrors"

var (
	// ErrUnknownKind 订阅了分发器未声明的事件类型
	ErrUnknownKind = xerrors.New("dispatch: unknown event kind")
	// ErrNilHandler 处理函数为 nil
	ErrNilHandler = xerrors.New("dispatch: nil handler")
)
