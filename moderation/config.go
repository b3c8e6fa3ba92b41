package moderation

import (
	"net/url"
	"strings"

	"github.com/ceyewan/modlink/session"
	"github.com/ceyewan/modlink/xerrors"
)

// Config 锁协调器配置
type Config struct {
	Session session.Config `json:"session" yaml:"session" mapstructure:"session"`
	// ReassertOnReconnect 为 true 时，每次连接建立后自动为 ViewingSet 中的事件重发 view_event。
	// 默认 false：由持有视图的上层在收到 open 事件后自行重新声明。
	ReassertOnReconnect bool `json:"reassert_on_reconnect" yaml:"reassert_on_reconnect" mapstructure:"reassert_on_reconnect"`
}

// EndpointFromAPI 由 REST 基地址推导审核 WebSocket 端点：
// http(s)://host/api -> ws(s)://host/ws/moderation
func EndpointFromAPI(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", xerrors.Wrap(ErrInvalidAPIURL, err.Error())
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", xerrors.Wrapf(ErrInvalidAPIURL, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", xerrors.Wrap(ErrInvalidAPIURL, "missing host")
	}

	path := strings.TrimSuffix(u.Path, "/")
	if idx := strings.LastIndex(path, "/api"); idx >= 0 && idx == len(path)-len("/api") {
		path = path[:idx]
	}
	u.Path = path + "/ws/moderation"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
