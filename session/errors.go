package session

import "github.com/ceyewan/modlink/xerrors"

var (
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = xerrors.New("session: invalid config")
	// ErrDial 建立连接失败
	ErrDial = xerrors.New("session: dial failed")
)
