package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	jsonFormat bool
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetOutput replaces the sink for every logger, including Named ones created earlier.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// SetFormat switches between "text" (default) and "json" output. Call before SetOutput.
func SetFormat(format string) {
	loggerMu.Lock()
	jsonFormat = strings.EqualFold(strings.TrimSpace(format), "json")
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Entry is a component-scoped logger. It resolves the sink on every call so
// SetOutput after construction still takes effect.
type Entry struct {
	attrs []any
}

// Named returns an Entry tagged with component=name.
func Named(name string) *Entry {
	return &Entry{attrs: []any{"component", name}}
}

// With returns a copy carrying extra key/value attributes.
func (e *Entry) With(kv ...any) *Entry {
	if e == nil {
		return &Entry{attrs: append([]any(nil), kv...)}
	}
	attrs := make([]any, 0, len(e.attrs)+len(kv))
	attrs = append(attrs, e.attrs...)
	attrs = append(attrs, kv...)
	return &Entry{attrs: attrs}
}

func (e *Entry) logger() *slog.Logger {
	l := activeLogger()
	if e == nil || len(e.attrs) == 0 {
		return l
	}
	return l.With(e.attrs...)
}

func (e *Entry) Debugf(format string, v ...any) {
	e.logger().Debug(fmt.Sprintf(format, v...))
}

func (e *Entry) Infof(format string, v ...any) {
	e.logger().Info(fmt.Sprintf(format, v...))
}

func (e *Entry) Warnf(format string, v ...any) {
	e.logger().Warn(fmt.Sprintf(format, v...))
}

func (e *Entry) Errorf(format string, v ...any) {
	e.logger().Error(fmt.Sprintf(format, v...))
}
