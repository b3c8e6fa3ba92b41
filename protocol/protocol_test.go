package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	cases := []struct {
		name  string
		frame Outbound
		want  string
	}{
		{"view", ViewEvent("e1"), `{"type":"view_event","eventId":"e1"}`},
		{"unview", UnviewEvent("e1"), `{"type":"unview_event","eventId":"e1"}`},
		{"updated", EventUpdated("e2"), `{"type":"event_updated","eventId":"e2"}`},
		{"deleted", EventDeleted("e3"), `{"type":"event_deleted","eventId":"e3"}`},
		{"request_locks 不带 eventId", RequestLocks(), `{"type":"request_locks"}`},
		{"ping", Ping(), `{"type":"ping"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := Encode(c.frame)
			require.NoError(t, err)
			assert.JSONEq(t, c.want, string(data))
		})
	}

	_, err := Encode(Outbound{Type: TypePong})
	assert.ErrorIs(t, err, ErrUnknownType, "pong 只能由服务端发送")
}

func TestDecode(t *testing.T) {
	t.Run("event_locked", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_locked","eventId":"e1","lockedBy":"u2"}`))
		require.NoError(t, err)
		assert.Equal(t, Inbound{Type: TypeEventLocked, EventID: "e1", LockedBy: "u2", LockedByRaw: json.RawMessage(`"u2"`)}, f)
	})

	t.Run("数字 eventId", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_locked","eventId":42,"lockedBy":"u2"}`))
		require.NoError(t, err)
		assert.Equal(t, "42", f.EventID)
		assert.Equal(t, "u2", f.LockedBy)
	})

	t.Run("对象 lockedBy", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_locked","eventId":"e1","lockedBy":{"id":7,"username":"alice"}}`))
		require.NoError(t, err)
		assert.Equal(t, "alice", f.LockedBy)
		assert.JSONEq(t, `{"id":7,"username":"alice"}`, string(f.LockedByRaw))
	})

	t.Run("对象 lockedBy 只有数字 id", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_locked","eventId":"e1","lockedBy":{"id":7}}`))
		require.NoError(t, err)
		assert.Equal(t, "7", f.LockedBy)
	})

	t.Run("null 字段视为缺失", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_unlocked","eventId":"e1","lockedBy":null}`))
		require.NoError(t, err)
		assert.Empty(t, f.LockedBy)
		assert.Nil(t, f.LockedByRaw)
	})

	t.Run("忽略未知字段", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_unlocked","eventId":"e1","extra":{"a":1}}`))
		require.NoError(t, err)
		assert.Equal(t, "e1", f.EventID)
	})

	t.Run("pong", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"pong"}`))
		require.NoError(t, err)
		assert.Equal(t, TypePong, f.Type)
	})

	t.Run("未知类型", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"event_exploded","eventId":"e9"}`))
		assert.ErrorIs(t, err, ErrUnknownType)
		assert.Equal(t, Type("event_exploded"), f.Type)
	})

	for name, raw := range map[string]string{
		"非 JSON":    `not json`,
		"缺少 type":   `{"eventId":"e1"}`,
		"type 非字符串": `{"type":42}`,
		"数组":        `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDirection(t *testing.T) {
	assert.True(t, IsOutbound(TypeEventUpdated))
	assert.True(t, IsInbound(TypeEventUpdated))
	assert.False(t, IsOutbound(TypeEventLocked))
	assert.False(t, IsInbound(TypeViewEvent))
}
