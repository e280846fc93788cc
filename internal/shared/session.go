// Package shared carries cross-cutting request context: the caller's
// session identity and a per-invocation trace id. Both are threaded
// explicitly through context.Context so every call site shows what the
// engine receives.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type sessionIDKey struct{}
type traceIDKey struct{}

// WithSessionID attaches the caller's session id to the context. The
// engine stamps it into created_by when the caller does not supply one.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts the session id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTraceID attaches a trace id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID extracts the trace id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}
