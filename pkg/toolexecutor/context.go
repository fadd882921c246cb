package toolexecutor

import "context"

type callerKey struct{}

// Caller identifies the end user a chat runs for. Tool handlers and policies
// read it from the context.
type Caller struct {
	Name string
	Role string
}

// ContextWithCaller attaches the caller to ctx.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext extracts the caller from ctx.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
