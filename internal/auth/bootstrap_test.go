package auth_test

import (
	"context"
	"errors"
	"testing"

	"tessera.org/internal/auth"
)

func TestBootstrapAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := auth.BootstrapAdmin(ctx, f.store.Users(), f.store.Roles(), f.store.Permissions(), " Root@Example.com ", "", "s3cret-pass", f.clock.Now())
	if err != nil {
		t.Fatalf("BootstrapAdmin: %v", err)
	}
	if user.EmailAddress != "root@example.com" || user.FullName != "Administrator" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if names := user.PermissionNames(); len(names) != len(auth.BuiltinPermissions) {
		t.Fatalf("admin must hold every permission, got %v", names)
	}

	token, err := f.authn.Authenticate(ctx, auth.LoginRequest{EmailAddress: "root@example.com", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	identity, err := f.codec.Authentication(token.AccessToken)
	if err != nil || !identity.IsSuperAdmin() {
		t.Fatalf("admin identity: %+v, %v", identity, err)
	}

	if _, err := auth.BootstrapAdmin(ctx, f.store.Users(), f.store.Roles(), f.store.Permissions(), "root@example.com", "x", "pw-pw-pw-pw", f.clock.Now()); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// A second admin reuses the ADMIN role.
	if _, err := auth.BootstrapAdmin(ctx, f.store.Users(), f.store.Roles(), f.store.Permissions(), "second@example.com", "Second", "pw-pw-pw-pw", f.clock.Now()); err != nil {
		t.Fatalf("second admin: %v", err)
	}
	page, err := f.roles.FindAll(ctx, auth.RoleFilter{Name: auth.AdminRoleName}, auth.Pageable{})
	if err != nil || page.TotalElementCount != 1 {
		t.Fatalf("expected a single ADMIN role: %+v, %v", page, err)
	}

	if _, err := auth.BootstrapAdmin(ctx, f.store.Users(), f.store.Roles(), f.store.Permissions(), "", "", "", f.clock.Now()); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
