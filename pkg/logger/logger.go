package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// New returns the JSON logger shared by every process. component is attached
// to each record so api and worker output can be told apart.
func New(appEnv, component string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, component)
}

func NewWithWriter(w io.Writer, appEnv, component string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	if component != "" {
		l = l.With("component", component)
	}
	return l
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// WithAttrs derives the context logger with extra attributes and stores it back.
func WithAttrs(ctx context.Context, args ...any) (context.Context, *slog.Logger) {
	l := From(ctx).With(args...)
	return With(ctx, l), l
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

// ShutdownFlush is a no-op for the stdout JSON handler; kept so main can call it
// unconditionally if a buffered handler is introduced.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
