package moderation

import "github.com/ceyewan/modlink/xerrors"

// ErrInvalidAPIURL 无法从 API 地址推导出 WebSocket 端点
var ErrInvalidAPIURL = xerrors.New("moderation: invalid api url")

var errFrameDropped = xerrors.New("moderation: frame dropped, session not connected")
