// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// batchIDKey is the context key for batch correlation IDs.
type batchIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a structured JSON logger writing to w.
func NewWithWriter(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// WithBatchID returns a new context carrying the batch ID.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, batchID)
}

// BatchIDFromContext extracts the batch ID from the context.
func BatchIDFromContext(ctx context.Context) string {
	if v := ctx.Value(batchIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields (batch ID, etc.) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if batchID := BatchIDFromContext(ctx); batchID != "" {
		return base.With("batch_id", batchID)
	}
	return base
}
