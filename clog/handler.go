package clog

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// handler 包装 slog.Handler，持有共享的 LevelVar 以支持 SetLevel
type handler struct {
	slog.Handler
	levelVar *slog.LevelVar
	closer   io.Closer
}

func newHandler(config *Config, opts *options) (*handler, error) {
	w, closer, err := openOutput(config.Output, opts.buffer)
	if err != nil {
		return nil, err
	}

	level, _ := ParseLevel(config.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.slogLevel())

	hopts := &slog.HandlerOptions{
		AddSource:   config.AddSource,
		Level:       levelVar,
		ReplaceAttr: replaceAttr(config.SourceRoot),
	}

	var h slog.Handler
	if strings.EqualFold(config.Format, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}

	return &handler{Handler: h, levelVar: levelVar, closer: closer}, nil
}

func openOutput(output string, buf *bytes.Buffer) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "buffer":
		if buf == nil {
			return nil, nil, fmt.Errorf("buffer output requires a buffer option")
		}
		return buf, nil, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, f, nil
	}
}

// replaceAttr 统一级别为大写、时间为 ISO8601，并把 source 改写为 caller=file:line
func replaceAttr(sourceRoot string) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.LevelKey:
			level, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			a.Value = slog.StringValue(levelName(level))
		case slog.TimeKey:
			if a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().Format(timeFormat))
			}
		case slog.SourceKey:
			source, ok := a.Value.Any().(*slog.Source)
			if !ok {
				return a
			}
			file := source.File
			if sourceRoot != "" {
				if rel, err := filepath.Rel(sourceRoot, file); err == nil && !strings.HasPrefix(rel, "..") {
					file = rel
				}
			}
			return slog.String("caller", fmt.Sprintf("%s:%d", file, source.Line))
		}
		return a
	}
}

func levelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG"
	case level <= slog.LevelInfo:
		return "INFO"
	case level <= slog.LevelWarn:
		return "WARN"
	case level <= slog.LevelError:
		return "ERROR"
	default:
		return "FATAL"
	}
}

func (h *handler) setLevel(level Level) {
	h.levelVar.Set(level.slogLevel())
}

func (h *handler) flush() {
	if s, ok := h.closer.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}
