// Package logging provides the process-wide slog logger, rendered with
// clog for console output, and helpers to carry a logger in a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
)

type ctxKey struct{}

var (
	mu         sync.RWMutex
	defaultLog *slog.Logger
)

func init() {
	defaultLog = New("info", os.Stderr)
}

// New creates a console logger at the given level. Accepted levels:
// debug, info, warn, warning, error (case-insensitive); anything else
// falls back to info.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	handler := clog.New(
		clog.WithWriter(w),
		clog.WithLevel(parseLevel(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	)

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the process default logger.
func Default() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLog
}

// SetDefault replaces the process default logger.
func SetDefault(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLog = logger
}

// With attaches a logger to the context.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger attached to the context, or the default
// logger when none is attached.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
