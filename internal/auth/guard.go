package auth

import (
	"fmt"
	"strings"
)

// RequireAny succeeds when the identity holds at least one of perms.
// An empty list only requires authentication.
func RequireAny(id Identity, perms ...string) error {
	if id.UserID == "" {
		return ErrUnauthorized
	}
	if len(perms) == 0 || id.HasAny(perms...) {
		return nil
	}
	return fmt.Errorf("%w: requires one of [%s]", ErrAccessDenied, strings.Join(perms, ", "))
}

// CheckSuperPermissions rejects granting super permissions by a non-super identity.
func CheckSuperPermissions(id Identity, perms []Permission) error {
	if id.IsSuperAdmin() {
		return nil
	}
	for _, p := range perms {
		if p.IsSuper {
			return ErrUserNotSuperAdmin
		}
	}
	return nil
}
