package common

import "context"

type ctxKey string

const (
	userIDKey        ctxKey = "auth/user-id"
	sessionCookieKey ctxKey = "auth/session-cookie"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithSessionCookie stores the caller's raw session cookie value so upstream
// calls can forward the same credential.
func WithSessionCookie(ctx context.Context, cookie string) context.Context {
	return context.WithValue(ctx, sessionCookieKey, cookie)
}

// SessionCookie extracts the session cookie value from the context if present.
func SessionCookie(ctx context.Context) (string, bool) {
	v := ctx.Value(sessionCookieKey)
	if v == nil {
		return "", false
	}
	cookie, ok := v.(string)
	return cookie, ok
}
