package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component constants for structured logging.
const (
	CompRunner      = "runner"
	CompTask        = "task"
	CompStore       = "store"
	CompBrainstorm  = "brainstorm"
	CompProgress    = "progress"
	CompNotify      = "notify"
	CompHTTP        = "http"
	CompDaemon      = "daemon"
	CompMaintenance = "maintenance"
	CompMCP         = "mcp"
	CompGit         = "git"
)

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.loopbot/logs)
	LogDir string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 10)
	MaxAgeDays int

	// Compress rotated files
	Compress bool

	// Debug mirrors log output to stderr
	Debug bool
}

var (
	globalHandler slog.Handler
	globalMu      sync.RWMutex
	lumberjackW   *lumberjack.Logger
)

// Init initializes the global logging system.
// When debug is false and no log dir is provided, logs are discarded.
func Init(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var writers []io.Writer
	if cfg.LogDir != "" {
		lumberjackW = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "loopbot.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, lumberjackW)
	}
	if cfg.Debug {
		writers = append(writers, os.Stderr)
	}
	if len(writers) == 0 {
		globalHandler = slog.NewJSONHandler(io.Discard, nil)
		return
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	out := io.MultiWriter(writers...)
	if cfg.Format == "text" {
		globalHandler = slog.NewTextHandler(out, handlerOpts)
	} else {
		globalHandler = slog.NewJSONHandler(out, handlerOpts)
	}
}

func current() slog.Handler {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalHandler == nil {
		return slog.NewJSONHandler(io.Discard, nil)
	}
	return globalHandler
}

// Logger returns the global logger. Safe to call before Init (returns default).
func Logger() *slog.Logger {
	return slog.New(current())
}

// ForComponent returns a sub-logger with the component field set.
// Package-level loggers are created before Init runs, so the returned
// logger resolves the global handler on every record.
func ForComponent(name string) *slog.Logger {
	return slog.New(&lateHandler{}).With(slog.String("component", name))
}

// lateHandler replays WithAttrs/WithGroup calls onto whatever handler
// is installed at the time a record is written.
type lateHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *lateHandler) resolve() slog.Handler {
	out := current()
	for _, op := range h.ops {
		out = op(out)
	}
	return out
}

func (h *lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current().Enabled(ctx, level)
}

func (h *lateHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *lateHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *lateHandler) with(op func(slog.Handler) slog.Handler) *lateHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &lateHandler{ops: append(ops, op)}
}

// Shutdown closes writers and resets to the discard handler.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if lumberjackW != nil {
		lumberjackW.Close()
		lumberjackW = nil
	}
	globalHandler = nil
}
