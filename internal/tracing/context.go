package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the inbound chat request id
	RequestIDKey ContextKey = "request_id"
	// AttemptIDKey is the context key for one provider attempt
	AttemptIDKey ContextKey = "attempt_id"
	// UserKey is the context key for the end user name
	UserKey ContextKey = "user"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	AttemptID string
	User      string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds the chat request id to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAttemptID adds a provider attempt id to the context
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, AttemptIDKey, attemptID)
}

// WithUser adds the end user name to the context
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetAttemptID retrieves the attempt ID from the context
func GetAttemptID(ctx context.Context) string {
	return stringValue(ctx, AttemptIDKey)
}

// GetUser retrieves the user name from the context
func GetUser(ctx context.Context) string {
	return stringValue(ctx, UserKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		AttemptID: GetAttemptID(ctx),
		User:      GetUser(ctx),
	}
}

// NewRequestContext starts a chat request: a fresh trace id plus the given
// request id.
func NewRequestContext(ctx context.Context, requestID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if requestID != "" {
		ctx = WithRequestID(ctx, requestID)
	}
	return ctx
}

// NewAttemptContext scopes one provider attempt within a request.
func NewAttemptContext(ctx context.Context) context.Context {
	return WithAttemptID(ctx, uuid.New().String())
}
