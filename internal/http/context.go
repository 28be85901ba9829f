package http

import (
	"context"
	"log/slog"

	"github.com/example/session-roster/internal/logging"
)

type contextKey string

const sessionIDContextKey contextKey = "session_id"

// ContextWithLogger returns a derived context carrying the request logger. The
// services below the handlers pick it up from the same key.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext extracts the request logger, if any.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// handlerLogger tags the request logger, or fallback when the middleware set
// none, with the handler and operation names.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handler, operation string, attrs ...any) *slog.Logger {
	logger := LoggerFromContext(ctx)
	if logger == nil {
		logger = orDefaultLogger(fallback)
	}
	return logger.With(append([]any{"handler", handler, "operation", operation}, attrs...)...)
}

func orDefaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// ContextWithSessionID injects the session identifier resolved from the request path.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

// SessionIDFromContext extracts a session identifier previously associated with the context.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok && id != ""
}
