package guard

import "context"

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity set by the guard middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// UserID returns the authenticated user ID and true if set; otherwise "", false.
func UserID(ctx context.Context) (string, bool) {
	if id := FromContext(ctx); id != nil && id.UserID != "" {
		return id.UserID, true
	}
	return "", false
}

// SessionID returns the authenticated session ID and true if set; otherwise "", false.
func SessionID(ctx context.Context) (string, bool) {
	if id := FromContext(ctx); id != nil && id.SessionID != "" {
		return id.SessionID, true
	}
	return "", false
}

// Email returns the authenticated email and true if set; otherwise "", false.
func Email(ctx context.Context) (string, bool) {
	if id := FromContext(ctx); id != nil && id.Email != "" {
		return id.Email, true
	}
	return "", false
}
