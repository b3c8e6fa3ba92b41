package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/xerrors"
)

const watchBuffer = 10

// loader 基于 Viper 的 Loader 实现
type loader struct {
	v      *viper.Viper
	cfg    *Config
	logger clog.Logger

	mu        sync.Mutex
	watches   map[string][]chan Event
	oldValues map[string]any
}

func newLoader(cfg *Config, o *options) *loader {
	v := viper.New()
	for k, val := range o.defaults {
		v.SetDefault(k, val)
	}
	return &loader{
		v:         v,
		cfg:       cfg,
		logger:    o.logger,
		watches:   make(map[string][]chan Event),
		oldValues: make(map[string]any),
	}
}

// Load 按优先级从所有来源加载配置
func (l *loader) Load(ctx context.Context) error {
	l.v.SetConfigName(l.cfg.Name)
	l.v.SetConfigType(l.cfg.FileType)
	for _, path := range l.cfg.Paths {
		l.v.AddConfigPath(path)
	}

	// 环境变量最高优先级：log.level -> MODLINK_LOG_LEVEL
	l.v.SetEnvPrefix(l.cfg.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// .env 不覆盖已存在的环境变量
	l.loadDotEnv()

	fileFound := true
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return xerrors.Wrapf(err, "read config file %s", l.cfg.Name)
		}
		fileFound = false
		l.logger.Warn("no configuration file found", clog.String("name", l.cfg.Name), clog.Any("paths", l.cfg.Paths))
	}

	if err := l.loadEnvironmentConfig(); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}

	l.captureCurrentValues()

	if fileFound {
		l.v.OnConfigChange(func(e fsnotify.Event) {
			if err := l.loadEnvironmentConfig(); err != nil {
				l.logger.Error("reload environment config failed", clog.Error(err))
			}
			l.notifyWatches(e)
		})
		l.v.WatchConfig()
		l.logger.Info("configuration loaded", clog.String("file", l.v.ConfigFileUsed()), clog.String("env", l.env()))
	}
	return nil
}

func (l *loader) env() string {
	if l.cfg.Env != "" {
		return l.cfg.Env
	}
	return os.Getenv(l.cfg.EnvPrefix + "_ENV")
}

// loadDotEnv 依次尝试工作目录与各搜索路径下的 .env
func (l *loader) loadDotEnv() {
	candidates := []string{".env"}
	for _, path := range l.cfg.Paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	for _, file := range candidates {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			l.logger.Warn("load .env failed", clog.String("file", file), clog.Error(err))
			continue
		}
		l.logger.Debug("loaded .env", clog.String("file", file))
	}
}

// loadEnvironmentConfig 合并 <name>.<env>.<type>
func (l *loader) loadEnvironmentConfig() error {
	env := l.env()
	if env == "" {
		return nil
	}

	envConfigName := l.cfg.Name + "." + env
	l.v.SetConfigName(envConfigName)
	defer l.v.SetConfigName(l.cfg.Name)

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return xerrors.Wrapf(err, "merge environment config %s", envConfigName)
		}
		l.logger.Info("no environment configuration file", clog.String("env", env))
		return nil
	}
	l.logger.Info("merged environment configuration", clog.String("env", env))
	return nil
}

func (l *loader) captureCurrentValues() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.watches {
		l.oldValues[key] = l.v.Get(key)
	}
}

func (l *loader) Get(key string) any { return l.v.Get(key) }

func (l *loader) GetString(key string) string { return l.v.GetString(key) }

func (l *loader) Unmarshal(v any) error {
	if err := l.v.Unmarshal(v); err != nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, err.Error())
	}
	return nil
}

// UnmarshalKey 从 AllSettings 取子树再解码，使环境变量对嵌套字段同样生效
func (l *loader) UnmarshalKey(key string, v any) error {
	var node any = l.v.AllSettings()
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		m, ok := node.(map[string]any)
		if !ok {
			node = nil
			break
		}
		node = m[part]
	}
	sub, ok := node.(map[string]any)
	if !ok {
		// 叶子值或不存在的 key 交给 viper 处理
		if err := l.v.UnmarshalKey(key, v); err != nil {
			return xerrors.Wrapf(xerrors.ErrInvalidInput, "%s: %v", key, err)
		}
		return nil
	}

	tmp := viper.New()
	if err := tmp.MergeConfigMap(sub); err != nil {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "%s: %v", key, err)
	}
	if err := tmp.Unmarshal(v); err != nil {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "%s: %v", key, err)
	}
	return nil
}

func (l *loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

// Watch 订阅 key 的变更
func (l *loader) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if key == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "watch key is empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Event, watchBuffer)
	l.watches[key] = append(l.watches[key], ch)
	if _, ok := l.oldValues[key]; !ok {
		l.oldValues[key] = l.v.Get(key)
	}

	go func() {
		<-ctx.Done()
		l.removeWatch(key, ch)
	}()
	return ch, nil
}

func (l *loader) removeWatch(key string, ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chans := l.watches[key]
	for i, c := range chans {
		if c == ch {
			l.watches[key] = append(chans[:i:i], chans[i+1:]...)
			close(ch)
			break
		}
	}
	if len(l.watches[key]) == 0 {
		delete(l.watches, key)
		delete(l.oldValues, key)
	}
}

// Validate 配置不能为空
func (l *loader) Validate() error {
	if len(l.v.AllSettings()) == 0 {
		return xerrors.Wrap(ErrValidationFailed, "configuration is empty")
	}
	return nil
}

func (l *loader) notifyWatches(_ fsnotify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, channels := range l.watches {
		newValue := l.v.Get(key)
		oldValue := l.oldValues[key]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		l.oldValues[key] = newValue

		event := Event{Key: key, Value: newValue, OldValue: oldValue, Source: "file", Timestamp: time.Now()}
		for _, ch := range channels {
			select {
			case ch <- event:
			default:
				l.logger.Warn("watch channel full, event dropped", clog.String("key", key))
			}
		}
	}
}
