package tokenpipe

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID to the backend.
const RequestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// WithRequestID attaches a request ID to ctx. Requests sent with ctx carry it in the
// X-Request-ID header, and log lines and audit events reference it. Without one, each
// Do call generates a random ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the request ID attached by [WithRequestID].
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func requestIDOrNew(ctx context.Context) string {
	if id := RequestIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
