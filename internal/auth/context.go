package auth

import (
	"context"
	"slices"
	"time"
)

// Identity is the request-scoped view of an authenticated user, rebuilt from
// access token claims on every request.
type Identity struct {
	UserID       string
	FullName     string
	EmailAddress string
	Permissions  []string
	LastLoginAt  *time.Time
	TokenID      string
	AccessToken  string
}

// HasPermission reports an exact match on the permission name.
func (i Identity) HasPermission(name string) bool {
	return slices.Contains(i.Permissions, name)
}

// HasAny reports whether the identity holds at least one of names.
func (i Identity) HasAny(names ...string) bool {
	for _, n := range names {
		if i.HasPermission(n) {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the identity carries the "super" permission.
func (i Identity) IsSuperAdmin() bool {
	return i.HasPermission(PermSuper)
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// UserIDFromContext returns the acting user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}
