// Package protocol 定义审核锁协议的 JSON 帧：扁平对象，必填字符串字段 type，
// 以及按类型附带的 eventId / lockedBy（入站时接受任意 JSON 类型）。未知字段忽略。
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ceyewan/modlink/xerrors"
)

// Type 帧类型
type Type string

// 出站类型
const (
	TypeViewEvent    Type = "view_event"
	TypeUnviewEvent  Type = "unview_event"
	TypeRequestLocks Type = "request_locks"
	TypePing         Type = "ping"
)

// 入站类型；event_updated 与 event_deleted 双向共用
const (
	TypeEventLocked   Type = "event_locked"
	TypeEventUnlocked Type = "event_unlocked"
	TypeEventUpdated  Type = "event_updated"
	TypeEventDeleted  Type = "event_deleted"
	TypeEventCreated  Type = "event_created"
	TypePong          Type = "pong"
)

var (
	// ErrMalformed 帧不是 JSON 对象或缺少 type
	ErrMalformed = xerrors.New("protocol: malformed frame")
	// ErrUnknownType 帧类型无法识别
	ErrUnknownType = xerrors.New("protocol: unknown frame type")
)

var outbound = map[Type]bool{
	TypeViewEvent:    true,
	TypeUnviewEvent:  true,
	TypeEventUpdated: true,
	TypeEventDeleted: true,
	TypeRequestLocks: true,
	TypePing:         true,
}

var inbound = map[Type]bool{
	TypeEventLocked:   true,
	TypeEventUnlocked: true,
	TypeEventUpdated:  true,
	TypeEventDeleted:  true,
	TypeEventCreated:  true,
	TypePong:          true,
}

// IsOutbound 判断客户端是否可以发送该类型
func IsOutbound(t Type) bool { return outbound[t] }

// IsInbound 判断该类型是否是服务端下发的已知类型
func IsInbound(t Type) bool { return inbound[t] }

// Outbound 客户端发送的帧
type Outbound struct {
	Type    Type   `json:"type"`
	EventID string `json:"eventId,omitempty"`
}

// ViewEvent 声明正在查看事件
func ViewEvent(eventID string) Outbound { return Outbound{Type: TypeViewEvent, EventID: eventID} }

// UnviewEvent 声明不再查看事件
func UnviewEvent(eventID string) Outbound { return Outbound{Type: TypeUnviewEvent, EventID: eventID} }

// EventUpdated 通知其他审核员事件已修改
func EventUpdated(eventID string) Outbound { return Outbound{Type: TypeEventUpdated, EventID: eventID} }

// EventDeleted 通知其他审核员事件已删除
func EventDeleted(eventID string) Outbound { return Outbound{Type: TypeEventDeleted, EventID: eventID} }

// RequestLocks 请求服务端重发当前锁表
func RequestLocks() Outbound { return Outbound{Type: TypeRequestLocks} }

// Ping 心跳帧
func Ping() Outbound { return Outbound{Type: TypePing} }

// Encode 把出站帧编码为 JSON
func Encode(f Outbound) ([]byte, error) {
	if !IsOutbound(f.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return json.Marshal(f)
}

// Inbound 服务端下发的帧。EventID 与 LockedBy 是规范化后的字符串形式：
// 数字 eventId 取其十进制文本，对象 lockedBy 取 username/name/email/id 中第一个非空值。
// LockedByRaw 保留服务端发送的原始 JSON。
type Inbound struct {
	Type        Type            `json:"type"`
	EventID     string          `json:"eventId,omitempty"`
	LockedBy    string          `json:"lockedBy,omitempty"`
	LockedByRaw json.RawMessage `json:"-"`
}

// wireInbound 按任意 JSON 类型接收 eventId / lockedBy
type wireInbound struct {
	Type     Type            `json:"type"`
	EventID  json.RawMessage `json:"eventId"`
	LockedBy json.RawMessage `json:"lockedBy"`
}

// Decode 解析入站帧。只有非 JSON 对象或缺失 type 返回 ErrMalformed；
// 类型未知返回 ErrUnknownType（帧内容仍会返回，便于记录日志）。
func Decode(data []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(data, &w); err != nil {
		return Inbound{}, xerrors.Wrap(ErrMalformed, err.Error())
	}
	if w.Type == "" {
		return Inbound{}, ErrMalformed
	}
	f := Inbound{
		Type:     w.Type,
		EventID:  scalarText(w.EventID),
		LockedBy: holderText(w.LockedBy),
	}
	if !isNull(w.LockedBy) {
		f.LockedByRaw = append(json.RawMessage(nil), w.LockedBy...)
	}
	if !IsInbound(f.Type) {
		return f, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// scalarText 字符串取其值，其余类型取紧凑的 JSON 文本
func scalarText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}

var holderFields = []string{"username", "name", "email", "id"}

// holderText 对象形式的用户取第一个可读字段
func holderText(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) == nil && obj != nil {
		for _, k := range holderFields {
			if v := scalarText(obj[k]); v != "" {
				return v
			}
		}
	}
	return scalarText(raw)
}
