// Package trace attaches a correlation ID to every host operation so the log
// lines of one card tap (user event, reply, progress write) can be grouped.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewID returns a fresh trace ID.
func NewID() string {
	return "t_" + uuid.NewString()
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// Ensure returns ctx unchanged when it already carries a trace ID, otherwise
// a child context with a new one. The effective ID is returned as well.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithTraceID(ctx, id), id
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
