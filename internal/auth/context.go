package auth

import "context"

// Identity is the authenticated caller of the call-control API.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext reports the identity installed by RequireAccessToken.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
