package moderation_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/moderation"
	"github.com/ceyewan/modlink/protocol"
	"github.com/ceyewan/modlink/session"
	"github.com/ceyewan/modlink/session/sessiontest"
)

const (
	waitFor  = 2 * time.Second
	waitTick = 5 * time.Millisecond
)

// eventLog 线程安全地收集事件
type eventLog struct {
	mu     sync.Mutex
	events []moderation.Event
}

func (l *eventLog) add(e moderation.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []moderation.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]moderation.Event(nil), l.events...)
}

func (l *eventLog) kinds() []moderation.Kind {
	var out []moderation.Kind
	for _, e := range l.snapshot() {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	c         *moderation.Coordinator
	transport *sessiontest.Transport
	clock     *clock.Manual
	log       *eventLog
}

func newFixture(t *testing.T, reassert bool) *fixture {
	t.Helper()
	f := &fixture{
		transport: sessiontest.NewTransport(),
		clock:     clock.NewManual(time.Now()),
		log:       &eventLog{},
	}
	c, err := moderation.New(&moderation.Config{
		Session:             session.Config{URL: "ws://api.test/ws/moderation"},
		ReassertOnReconnect: reassert,
	}, f.transport, moderation.WithClock(f.clock))
	require.NoError(t, err)
	for _, k := range moderation.Kinds {
		_, err := c.On(k, f.log.add)
		require.NoError(t, err)
	}
	f.c = c
	t.Cleanup(c.Disconnect)
	return f
}

func (f *fixture) connect(t *testing.T) *sessiontest.Conn {
	t.Helper()
	f.c.Connect()
	conn := f.transport.WaitConn(waitFor)
	require.NotNil(t, conn)
	require.Eventually(t, f.c.Connected, waitFor, waitTick)
	return conn
}

func (f *fixture) waitEvents(t *testing.T, n int) []moderation.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.log.snapshot()) >= n }, waitFor, waitTick,
		"events = %v", f.log.kinds())
	return f.log.snapshot()
}

// 查看 e1 后服务端回送锁公告，订阅者收到原样的 event_locked
func TestStartViewingReceivesLock(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)

	require.True(t, f.c.StartViewing("e1"))
	assert.Equal(t, []protocol.Outbound{protocol.ViewEvent("e1")}, conn.SentFrames())

	conn.Deliver([]byte(`{"type":"event_locked","eventId":"e1","lockedBy":"u2"}`))
	events := f.waitEvents(t, 2)

	assert.Equal(t, moderation.KindOpen, events[0].Kind)
	assert.Equal(t, moderation.Event{Kind: moderation.KindEventLocked, EventID: "e1", LockedBy: "u2", LockedByRaw: json.RawMessage(`"u2"`)}, events[1])

	holder, ok := f.c.LockHolder("e1")
	assert.True(t, ok)
	assert.Equal(t, "u2", holder)
}

// 数字 eventId 与对象 lockedBy 仍然送达，锁缓存使用规范化后的键与持有人
func TestLooseFieldTypesDelivered(t *testing.T) {
	f := newFixture(t, false)
	f.connect(t).Deliver([]byte(`{"type":"event_locked","eventId":42,"lockedBy":{"id":"u-9","username":"carol"}}`))

	events := f.waitEvents(t, 2)
	assert.Equal(t, moderation.KindEventLocked, events[1].Kind)
	assert.Equal(t, "42", events[1].EventID)
	assert.Equal(t, "carol", events[1].LockedBy)
	assert.JSONEq(t, `{"id":"u-9","username":"carol"}`, string(events[1].LockedByRaw))

	holder, ok := f.c.LockHolder("42")
	assert.True(t, ok)
	assert.Equal(t, "carol", holder)
}

func TestUnknownAndMalformedFramesNeverReachSubscribers(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)

	conn.Deliver([]byte(`{"type":"event_exploded","eventId":"e1"}`))
	conn.Deliver([]byte(`garbage`))
	conn.Deliver([]byte(`{"eventId":"e1"}`))
	conn.Deliver([]byte(`{"type":"pong"}`))

	events := f.waitEvents(t, 2)
	assert.Equal(t, []moderation.Kind{moderation.KindOpen, moderation.KindPong}, f.log.kinds())
	assert.Len(t, events, 2)
	assert.True(t, f.c.Connected(), "协议错误不影响会话状态")
}

func TestLockCache(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)

	require.True(t, f.c.RequestCurrentLocks())
	conn.Deliver([]byte(`{"type":"event_locked","eventId":"e1","lockedBy":"u2"}`))
	conn.Deliver([]byte(`{"type":"event_locked","eventId":"e2","lockedBy":"u3"}`))
	conn.Deliver([]byte(`{"type":"event_locked","eventId":"e3","lockedBy":"u4"}`))
	conn.Deliver([]byte(`{"type":"event_unlocked","eventId":"e1"}`))
	conn.Deliver([]byte(`{"type":"event_deleted","eventId":"e2"}`))
	f.waitEvents(t, 6)

	assert.Equal(t, map[string]string{"e3": "u4"}, f.c.Locks())
	assert.Equal(t, protocol.RequestLocks(), conn.SentFrames()[0])

	// 重连后缓存整体失效
	conn.Drop(session.CloseAbnormal, "")
	f.waitEvents(t, 7)
	assert.Equal(t, session.StateReconnecting, f.c.State())
	assert.Empty(t, f.c.Locks())
}

func TestViewingSet(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)

	f.c.StartViewing("e2")
	f.c.StartViewing("e1")
	f.c.StartViewing("e1")
	assert.Equal(t, []string{"e1", "e2"}, f.c.Viewing())

	f.c.StopViewing("e2")
	assert.Equal(t, []string{"e1"}, f.c.Viewing())

	f.c.NotifyUpdated("e9")
	f.c.NotifyDeleted("e8")
	assert.Equal(t, []string{"e1"}, f.c.Viewing(), "广播不修改 ViewingSet")

	assert.Equal(t, []protocol.Outbound{
		protocol.ViewEvent("e2"),
		protocol.ViewEvent("e1"),
		protocol.ViewEvent("e1"),
		protocol.UnviewEvent("e2"),
		protocol.EventUpdated("e9"),
		protocol.EventDeleted("e8"),
	}, conn.SentFrames())

	assert.False(t, f.c.StartViewing(""))
}

func TestStartViewingWhileDisconnectedStillTracks(t *testing.T) {
	f := newFixture(t, false)

	assert.False(t, f.c.StartViewing("e1"), "未连接时帧被丢弃")
	assert.Equal(t, []string{"e1"}, f.c.Viewing())
}

func TestDisconnectUnviewsAndClears(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)

	f.c.StartViewing("a")
	f.c.StartViewing("b")
	f.c.Disconnect()

	frames := conn.SentFrames()
	require.Len(t, frames, 4)
	assert.Equal(t, []protocol.Outbound{protocol.UnviewEvent("a"), protocol.UnviewEvent("b")}, frames[2:])

	closed, code, _ := conn.Closed()
	assert.True(t, closed)
	assert.Equal(t, session.CloseNormal, code)
	assert.Empty(t, f.c.Viewing())
	assert.Equal(t, session.StateClosed, f.c.State())

	kinds := f.log.kinds()
	assert.Equal(t, moderation.KindClose, kinds[len(kinds)-1])

	// 干净关闭后不会重连
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.transport.Dials())
}

func TestNoReassertByDefault(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)
	f.c.StartViewing("e1")

	conn.Drop(session.CloseAbnormal, "")
	require.Eventually(t, func() bool { return f.c.State() == session.StateReconnecting }, waitFor, waitTick)
	f.clock.Advance(time.Second)
	next := f.transport.WaitConn(waitFor)
	require.NotNil(t, next)
	require.Eventually(t, f.c.Connected, waitFor, waitTick)

	assert.Empty(t, next.SentFrames(), "默认不自动重发 view_event")
	assert.Equal(t, []string{"e1"}, f.c.Viewing())
}

func TestReassertOnReconnect(t *testing.T) {
	f := newFixture(t, true)
	conn := f.connect(t)
	f.c.StartViewing("e2")
	f.c.StartViewing("e1")

	conn.Drop(session.CloseAbnormal, "")
	require.Eventually(t, func() bool { return f.c.State() == session.StateReconnecting }, waitFor, waitTick)
	f.clock.Advance(time.Second)
	next := f.transport.WaitConn(waitFor)
	require.NotNil(t, next)

	require.Eventually(t, func() bool { return len(next.SentFrames()) == 2 }, waitFor, waitTick)
	assert.Equal(t, []protocol.Outbound{protocol.ViewEvent("e1"), protocol.ViewEvent("e2")}, next.SentFrames())
}

func TestSubscriberPanicIsolated(t *testing.T) {
	f := newFixture(t, false)

	var got []string
	var mu sync.Mutex
	_, err := f.c.On(moderation.KindEventLocked, func(moderation.Event) { panic("render failed") })
	require.NoError(t, err)
	_, err = f.c.OnLocked(func(id, by string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, id+":"+by)
	})
	require.NoError(t, err)

	conn := f.connect(t)
	conn.Deliver([]byte(`{"type":"event_locked","eventId":"e1","lockedBy":"u2"}`))
	conn.Deliver([]byte(`{"type":"event_locked","eventId":"e2","lockedBy":"u3"}`))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, waitTick)
	assert.Equal(t, []string{"e1:u2", "e2:u3"}, got)
	assert.True(t, f.c.Connected())
}

func TestOffStopsDelivery(t *testing.T) {
	f := newFixture(t, false)
	unlocked := make(chan string, 4)
	sub, err := f.c.OnUnlocked(func(id string) { unlocked <- id })
	require.NoError(t, err)

	conn := f.connect(t)
	conn.Deliver([]byte(`{"type":"event_unlocked","eventId":"e1"}`))
	assert.Equal(t, "e1", <-unlocked)

	assert.True(t, f.c.Off(sub))
	conn.Deliver([]byte(`{"type":"event_unlocked","eventId":"e2"}`))
	f.waitEvents(t, 3)
	assert.Empty(t, unlocked)
}

func TestOnUnknownKind(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.c.On(moderation.Kind("view_event"), func(moderation.Event) {})
	assert.Error(t, err)
}

func TestErrorAndCloseEvents(t *testing.T) {
	f := newFixture(t, false)
	conn := f.connect(t)

	conn.Drop(4001, "kicked")
	events := f.waitEvents(t, 2)
	assert.Equal(t, moderation.Event{Kind: moderation.KindClose, Code: 4001, Reason: "kicked"}, events[1])
}

func TestEndpointFromAPI(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000/api":     "ws://localhost:3000/ws/moderation",
		"https://protests.example/api/": "wss://protests.example/ws/moderation",
		"https://protests.example":      "wss://protests.example/ws/moderation",
		"https://example.com/v2/api":    "wss://example.com/v2/ws/moderation",
	}
	for in, want := range cases {
		got, err := moderation.EndpointFromAPI(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"ftp://x/api", "http:///api", "://"} {
		_, err := moderation.EndpointFromAPI(bad)
		assert.ErrorIs(t, err, moderation.ErrInvalidAPIURL, bad)
	}
}
