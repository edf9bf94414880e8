package shared

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type of the keys this package stores in a context.
type ContextKey string

// Context keys for request-scoped values
const (
	// PrincipalIDContextKey is the context key for the authenticated principal id
	PrincipalIDContextKey ContextKey = "principalID"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"
)

// SetTraceID adds a fresh trace ID to the context.
// It is used to correlate logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, uuid.NewString())
}

// WithTraceID stores traceID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// WithPrincipalID stores the authenticated principal in the context.
func WithPrincipalID(ctx context.Context, principal int64) context.Context {
	return context.WithValue(ctx, PrincipalIDContextKey, principal)
}

// GetPrincipalID returns the principal stored by the auth middleware.
func GetPrincipalID(ctx context.Context) (int64, bool) {
	principal, ok := ctx.Value(PrincipalIDContextKey).(int64)
	return principal, ok && principal > 0
}
