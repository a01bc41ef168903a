package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// New returns a production-friendly structured logger.
// verbose forces debug level regardless of environment.
func New(appEnv string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose || appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", serviceName())
}

func serviceName() string {
	if len(os.Args) == 0 {
		return "callflow"
	}
	return filepath.Base(os.Args[0])
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// Session returns l annotated with the identifiers every call-scoped line carries.
func Session(l *slog.Logger, sessionID, room string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("session_id", sessionID, "room", room)
}
