package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	c := &Config{EnvPrefix: "modlink"}
	c.setDefaults()
	assert.Equal(t, "config", c.Name)
	assert.Equal(t, []string{".", "./config"}, c.Paths)
	assert.Equal(t, "yaml", c.FileType)
	assert.Equal(t, "MODLINK", c.EnvPrefix)
}

// TestLoadPriority 环境变量 > .env > 环境特定配置 > 基础配置 > 默认值
func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.yaml", `
log:
  level: info
gateway:
  base_url: http://base/api
  timeout: 5s
moderation:
  reassert_on_reconnect: false
`)
	writeFile(t, dir, "app.staging.yaml", `
gateway:
  base_url: http://staging/api
`)
	writeFile(t, dir, ".env", "TESTAPP_MODERATION_REASSERT_ON_RECONNECT=true\nTESTAPP_LOG_LEVEL=warn\n")
	t.Setenv("TESTAPP_LOG_LEVEL", "debug")

	l, err := New(&Config{Name: "app", Paths: []string{dir}, EnvPrefix: "testapp", Env: "staging"},
		WithDefaults(map[string]any{"metrics.port": 9090}))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))
	t.Cleanup(func() { _ = os.Unsetenv("TESTAPP_MODERATION_REASSERT_ON_RECONNECT") })

	assert.Equal(t, "debug", l.GetString("log.level"), "环境变量优先于 .env")
	assert.Equal(t, "http://staging/api", l.GetString("gateway.base_url"))
	assert.Equal(t, 9090, l.Get("metrics.port"))
	assert.Equal(t, filepath.Join(dir, "app.yaml"), l.ConfigFileUsed())

	var gw struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	}
	require.NoError(t, l.UnmarshalKey("gateway", &gw))
	assert.Equal(t, 5*time.Second, gw.Timeout)

	var mod struct {
		Reassert bool `mapstructure:"reassert_on_reconnect"`
	}
	require.NoError(t, l.UnmarshalKey("moderation", &mod))
	assert.True(t, mod.Reassert, ".env 覆盖配置文件")
}

func TestEnvSelectedByVariable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "name: base\n")
	writeFile(t, dir, "config.prod.yaml", "name: prod\n")
	t.Setenv("MODLINK_ENV", "prod")

	l, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, "prod", l.GetString("name"))
}

func TestEmptyConfigFailsValidation(t *testing.T) {
	l, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}})
	require.NoError(t, err)

	err = l.Load(context.Background())
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.True(t, IsInvalidInput(err))
}

func TestDefaultsAloneAreValid(t *testing.T) {
	l, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}},
		WithDefaults(map[string]any{"log.level": "info"}))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, "info", l.GetString("log.level"))
	assert.Empty(t, l.ConfigFileUsed())
}

func TestMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "log: [unterminated\n")

	l, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	assert.Error(t, l.Load(context.Background()))
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(&Config{Name: "missing", Paths: []string{t.TempDir()}})
	})
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "log:\n  level: info\n")

	l, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Watch(ctx, "log.level")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	select {
	case ev := <-ch:
		assert.Equal(t, "log.level", ev.Key)
		assert.Equal(t, "debug", ev.Value)
		assert.Equal(t, "info", ev.OldValue)
		assert.Equal(t, "file", ev.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "取消后通道应关闭")
}

func TestWatchEmptyKey(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	_, err = l.Watch(context.Background(), "")
	assert.True(t, IsInvalidInput(err))
}
