package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual 是可手动推进的时钟，用于确定性测试。
//
// 回调在 Advance 的调用方 goroutine 中同步执行，且不持有内部锁，
// 因此回调里可以再次调用 AfterFunc；新定时器若已到期会在同一次 Advance 中触发。
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	m   *Manual
	seq uint64
	at  time.Time
	fn  func()
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, seq: m.seq, at: m.now.Add(d), fn: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance 把时间推进 d，并按到期时间顺序触发所有到期回调。
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	m.mu.Unlock()

	for {
		t := m.popDue()
		if t == nil {
			break
		}
		t.fn()
	}
	return m.Now()
}

func (m *Manual) popDue() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(m.now) {
		return nil
	}
	t := m.timers[0]
	m.timers = m.timers[1:]
	return t
}

// Pending 返回尚未触发的定时器数量
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDeadline 返回最早的未触发定时器相对当前时间的间隔
func (m *Manual) NextDeadline() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return 0, false
	}
	earliest := m.timers[0].at
	for _, t := range m.timers[1:] {
		if t.at.Before(earliest) {
			earliest = t.at
		}
	}
	return earliest.Sub(m.now), true
}

func (t *manualTimer) Stop() bool {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}
