package middleware

import "context"

type contextKey string

const authKey contextKey = "auth"

// AuthContext is the per-request authentication state set by AuthInit.
type AuthContext struct {
	Authenticated bool
	UserID        string
	SessionID     string
	// RotatedToken is set when this request caused the session token to be replaced.
	RotatedToken string
}

func WithAuth(ctx context.Context, a AuthContext) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// FromContext returns the request's AuthContext; the zero value means anonymous.
func FromContext(ctx context.Context) AuthContext {
	a, _ := ctx.Value(authKey).(AuthContext)
	return a
}

func GetUserID(ctx context.Context) string {
	return FromContext(ctx).UserID
}

func GetSessionID(ctx context.Context) string {
	return FromContext(ctx).SessionID
}
