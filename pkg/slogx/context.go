package slogx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithContext stores logger in ctx for FromContext.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// With returns ctx carrying the context logger extended with args.
func With(ctx context.Context, args ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}

// WithClient tags the context logger with the client a token request is
// for and, when known, the subject it is for.
func WithClient(ctx context.Context, clientID, subject string) context.Context {
	attrs := []any{slog.String("client_id", clientID)}
	if subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}
	return With(ctx, attrs...)
}
