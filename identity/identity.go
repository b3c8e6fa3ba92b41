// Package identity 保存当前登录用户的会话（令牌与用户资料）。
//
// 认证网关在刷新被拒绝时调用 Store.Logout；调用方可通过 OnLogout 注册回调，
// 例如在登出时断开审核锁通道。
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User 用户资料，字段与后端 /auth/login 返回的 user 对象一致
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session 当前登录会话。ExpiresAt 为零值表示令牌未携带过期时间。
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Store 身份存储
type Store interface {
	Login(ctx context.Context, token string, user User) error
	Logout(ctx context.Context) error
	// Current 返回当前会话，未登录或已过期返回 ErrNoSession
	Current(ctx context.Context) (*Session, error)
	// UpdateUser 在当前会话上原地修改用户资料
	UpdateUser(ctx context.Context, fn func(*User)) error
	// OnLogout 注册登出回调，回调在 Logout 返回前同步执行
	OnLogout(fn func())
}

// ExpiresAt 读取令牌中的 exp 声明。令牌签名由后端校验，这里只做不验签的解析。
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func newSession(token string, user User) *Session {
	s := &Session{Token: token, User: user}
	if exp, ok := ExpiresAt(token); ok {
		s.ExpiresAt = exp
	}
	return s
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type hooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *hooks) add(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *hooks) fire() {
	h.mu.Lock()
	fns := append([]func(){}, h.fns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
