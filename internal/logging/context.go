// Package logging carries request identity through context for handlers and
// middleware.
package logging

import "context"

type contextKey string

const (
	// UserIDKey holds the authenticated user's ID.
	UserIDKey contextKey = "user_id"
	// RoleKey holds the authenticated user's role.
	RoleKey contextKey = "role"
	// TraceIDKey holds the per-request trace ID.
	TraceIDKey contextKey = "trace_id"
)

// WithUser returns a context carrying the authenticated user's ID and role.
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	if role != "" {
		ctx = context.WithValue(ctx, RoleKey, role)
	}
	return ctx
}

// WithTraceID returns a context carrying the trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetUserID returns the user ID from ctx, or "".
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRole returns the user role from ctx, or "".
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(RoleKey).(string); ok {
		return v
	}
	return ""
}

// GetTraceID returns the trace ID from ctx, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}
