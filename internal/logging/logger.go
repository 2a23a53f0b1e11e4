// Package logging builds the service's slog logger: human-readable or JSON
// output on stderr, plus an optional daily JSON file under a log directory.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Dir enables file logging to "{Service}_{YYYY-MM-DD}.log" in Dir.
	Dir string

	Service string

	// Output replaces stderr, mainly for tests.
	Output io.Writer
}

// Logger wraps a *slog.Logger and owns the log file, if any.
type Logger struct {
	*slog.Logger
	file *os.File
}

func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var primary slog.Handler
	if cfg.JSON {
		primary = slog.NewJSONHandler(out, opts)
	} else {
		primary = slog.NewTextHandler(out, opts)
	}

	l := &Logger{}
	handler := primary
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.Service
		if name == "" {
			name = "server"
		}
		path := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		handler = &multiHandler{handlers: []slog.Handler{primary, slog.NewJSONHandler(f, opts)}}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	l.Logger = logger
	return l, nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
