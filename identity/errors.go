package identity

import "github.com/ceyewan/modlink/xerrors"

var (
	// ErrNoSession 当前没有有效会话
	ErrNoSession = xerrors.New("identity: no session")

	// ErrInvalidToken 登录时令牌为空
	ErrInvalidToken = xerrors.New("identity: empty token")
)
