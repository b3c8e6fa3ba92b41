package identity

import (
	"context"
	"sync"

	"github.com/ceyewan/modlink/clock"
	"github.com/ceyewan/modlink/clog"
)

// MemoryStore 进程内身份存储
type MemoryStore struct {
	logger clog.Logger
	clock  clock.Clock
	hooks  hooks

	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore 创建进程内身份存储
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &MemoryStore{logger: o.logger, clock: o.clock}
}

func (m *MemoryStore) Login(_ context.Context, token string, user User) error {
	if token == "" {
		return ErrInvalidToken
	}
	s := newSession(token, user)
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	m.logger.Info("identity stored", clog.String("user_id", user.ID))
	return nil
}

func (m *MemoryStore) Logout(context.Context) error {
	m.mu.Lock()
	had := m.session != nil
	m.session = nil
	m.mu.Unlock()
	if had {
		m.logger.Info("identity cleared")
	}
	m.hooks.fire()
	return nil
}

func (m *MemoryStore) Current(context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.expired(m.clock.Now()) {
		return nil, ErrNoSession
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNoSession
	}
	u := m.session.User
	fn(&u)
	s := *m.session
	s.User = u
	m.session = &s
	return nil
}

func (m *MemoryStore) OnLogout(fn func()) { m.hooks.add(fn) }
