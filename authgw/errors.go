package authgw

import "github.com/ceyewan/modlink/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("authgw: invalid config")

	// ErrSessionExpired 刷新被服务端拒绝，本地身份已登出
	ErrSessionExpired = xerrors.New("authgw: session expired")

	// ErrRefreshFailed 刷新请求未能完成（网络错误等），本地身份保持不变
	ErrRefreshFailed = xerrors.New("authgw: refresh failed")

	// ErrCircuitOpen 熔断器打开，请求未发出
	ErrCircuitOpen = xerrors.New("authgw: circuit open")
)
