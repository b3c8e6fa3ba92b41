package moderation

import (
	"encoding/json"

	"github.com/ceyewan/modlink/protocol"
)

// Kind 订阅者可见的事件类型
type Kind string

const (
	KindOpen          Kind = "open"
	KindClose         Kind = "close"
	KindError         Kind = "error"
	KindEventLocked   Kind = "event_locked"
	KindEventUnlocked Kind = "event_unlocked"
	KindEventUpdated  Kind = "event_updated"
	KindEventDeleted  Kind = "event_deleted"
	KindEventCreated  Kind = "event_created"
	KindPong          Kind = "pong"
)

// Kinds 是分发器支持的全部类型
var Kinds = []Kind{
	KindOpen, KindClose, KindError,
	KindEventLocked, KindEventUnlocked, KindEventUpdated, KindEventDeleted, KindEventCreated,
	KindPong,
}

// Event 分发给订阅者的事件。协议事件只填 EventID / LockedBy，
// close 事件填 Code / Reason，error 事件填 Err。
type Event struct {
	Kind     Kind
	EventID  string
	LockedBy string
	// LockedByRaw 服务端发送的原始 lockedBy（可能是字符串或用户对象）
	LockedByRaw json.RawMessage
	Code        int
	Reason      string
	Err         error
}

func eventFromFrame(f protocol.Inbound) Event {
	return Event{Kind: Kind(f.Type), EventID: f.EventID, LockedBy: f.LockedBy, LockedByRaw: f.LockedByRaw}
}
