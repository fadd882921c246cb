package gateway

import "context"

type ctxKey string

const identityKeyCtx ctxKey = "identity"

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKeyCtx, id)
}

// IdentityFromContext returns the authenticated identity of a request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKeyCtx).(Identity)
	return id, ok
}
