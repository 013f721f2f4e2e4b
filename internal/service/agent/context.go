package agent

import "context"

type ownerContextKey struct{}

// WithOwner tags the context with the identity every tool call must
// operate under. Tools never accept an owner from model output.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerContextKey{}, ownerID)
}

// OwnerFromContext retrieves the owner id set by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(ownerContextKey{})
	if val == nil {
		return "", false
	}
	ownerID, ok := val.(string)
	return ownerID, ok && ownerID != ""
}
