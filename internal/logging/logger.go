// Package logging is the structured logger every component writes through:
// log/slog with component scoping, a level that can change at runtime, and
// either a terse console format or JSON lines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is a slog.Logger sharing one adjustable level with every logger
// derived from it.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config selects level, destination and format.
type Config struct {
	Level  Level
	Output io.Writer // nil means stderr
	JSON   bool
	// Timestamps prefixes console lines with the time. JSON lines always
	// carry one.
	Timestamps bool
}

// New builds a Logger. Console output is colored when Output is a terminal.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	lv := &slog.LevelVar{}
	lv.Set(cfg.Level)

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{Level: lv})
	} else {
		h = NewConsoleHandler(cfg.Output, lv, isTerminal(cfg.Output), cfg.Timestamps)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd()) && os.Getenv("NO_COLOR") == ""
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler), level: &slog.LevelVar{}}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
// Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// SetLevel changes the level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current level.
func (l *Logger) GetLevel() Level {
	return l.level.Level()
}

// WithComponent tags every record with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

// Audit records a change to persistent state (policy saves, exports) at
// info level under an "audit" group.
func (l *Logger) Audit(action, resource string, details map[string]any) {
	attrs := make([]any, 0, 2+len(details))
	attrs = append(attrs, slog.String("action", action), slog.String("resource", resource))
	for k, v := range details {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.Info("audit", slog.Group("audit", attrs...))
}

var std atomic.Pointer[Logger]

// Default returns the process logger, an info-level console logger on
// stderr until SetDefault replaces it.
func Default() *Logger {
	if l := std.Load(); l != nil {
		return l
	}
	std.CompareAndSwap(nil, New(Config{Level: LevelInfo}))
	return std.Load()
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	std.Store(l)
}

// WithComponent scopes the process logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
