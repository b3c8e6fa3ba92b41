package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/modlink/authgw"
	"github.com/ceyewan/modlink/backoff"
	"github.com/ceyewan/modlink/moderation"
	"github.com/ceyewan/modlink/session"
	"github.com/ceyewan/modlink/testkit"
	"github.com/ceyewan/modlink/xerrors"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

// newBackend 在审核服务器上挂载登录与业务接口，登录设置 session Cookie 作为 WebSocket 身份
func newBackend(t *testing.T) *testkit.ModerationServer {
	t.Helper()
	srv := testkit.NewModerationServer(t)
	srv.Mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "cli", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "opaque-token",
			"user":  map[string]string{"id": "u-1", "email": body.Email, "role": "moderator"},
		})
	})
	srv.Mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("session"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"not logged in"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authorization": r.Header.Get("Authorization"),
			"page":          r.URL.Query().Get("page"),
		})
	})
	return srv
}

func backendConfig(srv *testkit.ModerationServer) string {
	return "log:\n  level: error\n" +
		"api:\n  base_url: " + srv.APIURL() + "\n" +
		"moderation:\n  session:\n    backoff:\n      base: 20ms\n"
}

func TestLoadConfigDefaults(t *testing.T) {
	_, cfg, err := loadConfig(context.Background(), t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "http://localhost:3000/api", cfg.API.BaseURL)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Trace.Enabled)
	assert.Equal(t, serviceName, cfg.Trace.ServiceName)
	assert.Empty(t, cfg.Identity.Addr)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
log:
  level: warn
api:
  base_url: https://mod.example.com/api
  rate_limit: 5
moderation:
  reassert_on_reconnect: true
  session:
    ping_interval: 15s
    backoff:
      max_attempts: 3
websocket:
  read_limit: 4096
`)
	t.Setenv("MODLINK_LOG_LEVEL", "debug")

	_, cfg, err := loadConfig(context.Background(), dir, "")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://mod.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 5.0, cfg.API.RateLimit)
	assert.True(t, cfg.Moderation.ReassertOnReconnect)
	assert.Equal(t, 15*time.Second, cfg.Moderation.Session.PingInterval)
	assert.Equal(t, 3, cfg.Moderation.Session.Backoff.MaxAttempts)
	assert.Equal(t, int64(4096), cfg.WebSocket.ReadLimit)
}

func TestNewAppRejectsBadAPIURL(t *testing.T) {
	dir := writeConfig(t, "api:\n  base_url: ftp://mod.example.com\n")
	_, err := newApp(context.Background(), dir, "")
	require.Error(t, err)
}

func TestLoginAndRequest(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	a, err := newApp(ctx, writeConfig(t, backendConfig(srv)), "")
	require.NoError(t, err)
	defer a.close(ctx)

	var out bytes.Buffer
	err = runRequest(ctx, a, "/events", &authgw.Request{Method: http.MethodGet}, &out)
	require.Error(t, err)
	// 后端没有刷新接口，刷新被拒绝后网关登出
	assert.True(t, xerrors.Is(err, authgw.ErrSessionExpired))
	assert.Equal(t, session.StateClosed, a.coordinator.State())

	out.Reset()
	require.NoError(t, runLogin(ctx, a, "mod@example.com", "secret", &out))
	assert.Contains(t, out.String(), `"email":"mod@example.com"`)
	assert.NotContains(t, out.String(), "opaque-token")

	sess, err := a.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", sess.Token)
	assert.Equal(t, "moderator", sess.User.Role)

	req, err := buildRequest("get", "", []string{"page=2"})
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, runRequest(ctx, a, "/events", req, &out))

	var body map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, "Bearer opaque-token", body["authorization"])
	assert.Equal(t, "2", body["page"])
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		query   []string
		wantErr bool
	}{
		{name: "empty", data: ""},
		{name: "json body", data: `{"title":"x"}`},
		{name: "invalid json", data: `{"title":`, wantErr: true},
		{name: "query", query: []string{"a=1", "b=2"}},
		{name: "query without value", query: []string{"a="}},
		{name: "query without key", query: []string{"=1"}, wantErr: true},
		{name: "query without separator", query: []string{"a"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest("post", tt.data, tt.query)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, http.MethodPost, req.Method)
			if tt.data == "" {
				assert.Nil(t, req.Body)
			}
		})
	}
}

func TestWatchUsesLoginCookieAndReasserts(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	a, err := newApp(ctx, writeConfig(t, backendConfig(srv)), "")
	require.NoError(t, err)
	defer a.close(ctx)

	var login bytes.Buffer
	require.NoError(t, runLogin(ctx, a, "mod@example.com", "secret", &login))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- runWatch(watchCtx, a, []string{"e2"}, out) }()

	// 握手只靠登录下发的 Cookie 识别用户
	require.Eventually(t, func() bool { return srv.Locks()["e2"] == "cli" }, 3*time.Second, 10*time.Millisecond)

	bob, err := moderation.New(&moderation.Config{Session: session.Config{
		URL:     srv.URL() + "?user=bob",
		Backoff: backoff.Config{Base: 20 * time.Millisecond},
	}}, session.NewWebSocketTransport(nil))
	require.NoError(t, err)
	bob.Connect()
	defer bob.Disconnect()
	require.Eventually(t, bob.Connected, 2*time.Second, 10*time.Millisecond)
	require.True(t, bob.StartViewing("e1"))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `{"kind":"event_locked","eventId":"e1","lockedBy":"bob"}`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `{"kind":"open"}`)

	// 服务端重启后重新声明 e2
	srv.DropAll(1012)
	require.Eventually(t, func() bool { return strings.Count(out.String(), `{"kind":"open"}`) >= 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Locks()["e2"] == "cli" }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Equal(t, session.StateClosed, a.coordinator.State())
	require.Eventually(t, func() bool { _, held := srv.Locks()["e2"]; return !held }, 2*time.Second, 10*time.Millisecond)
}

func TestLogoutDisconnectsCoordinator(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	a, err := newApp(ctx, writeConfig(t, backendConfig(srv)), "")
	require.NoError(t, err)
	defer a.close(ctx)

	var login bytes.Buffer
	require.NoError(t, runLogin(ctx, a, "mod@example.com", "secret", &login))

	a.coordinator.Connect()
	require.Eventually(t, a.coordinator.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.store.Logout(ctx))
	assert.Equal(t, session.StateClosed, a.coordinator.State())
}

func TestRootCommandArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"request", "GET"})
	rootCmd.SetOut(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)

	for _, name := range []string{"watch", "request", "login"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
