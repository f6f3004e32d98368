package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type for context keys to avoid collisions with
// other packages storing values in the same context.
type contextKey int

// loggerKey is the context key under which a request- or pass-scoped
// logger is stored.
const loggerKey contextKey = iota

// WithLogger returns a new context carrying the given logger. Handlers and
// pass drivers attach a logger enriched with correlation attributes
// (trace_id, pass name) so everything downstream logs with them.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext retrieves the logger stored in the context, falling back to
// slog.Default() when none is present. It never returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok && log != nil {
		return log
	}
	return slog.Default()
}

// FromContextOrDefault retrieves the logger stored in the context, falling
// back to the provided default, then to slog.Default(). Stores hold their
// own logger and use this so per-request attributes win when present.
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok && log != nil {
		return log
	}
	if def != nil {
		return def
	}
	return slog.Default()
}
