package auth_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"tessera.org/internal/auth"
)

func TestAuthenticateIssuesPermissionUnion(t *testing.T) {
	f := newFixture(t)
	panel := f.seedRole(t, "panel", auth.RoleStatusActive, auth.PermInstitutionPage, auth.PermRoleList)
	viewer := f.seedRole(t, "viewer", auth.RoleStatusActive, auth.PermRoleList, auth.PermUserList)
	gone := f.seedRole(t, "gone", auth.RoleStatusDeleted, auth.PermUserDelete)
	user := f.seedUser(t, "ops@example.com", "s3cret-pass", auth.UserStatusActive, panel, viewer, gone)

	tok, err := f.authn.Authenticate(context.Background(), auth.LoginRequest{
		EmailAddress: " OPS@example.com ",
		Password:     "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("token pair incomplete: %+v", tok)
	}

	claims, err := f.codec.Payload(tok.AccessToken)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	want := []string{auth.PermInstitutionPage, auth.PermRoleList, auth.PermUserList}
	if !slices.Equal(claims.Permissions, want) {
		t.Fatalf("permissions = %v, want %v", claims.Permissions, want)
	}
	if claims.UserID != user.ID || claims.EmailAddress != "ops@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.LastLoginAt == nil || !claims.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("lastLoginAt not stamped: %v", claims.LastLoginAt)
	}

	stored, err := f.store.Users().FindByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.LoginAttempt == nil || stored.LoginAttempt.LastLoginAt == nil {
		t.Fatal("login attempt not persisted")
	}
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	panel := f.seedRole(t, "panel", auth.RoleStatusActive, auth.PermInstitutionPage)
	f.seedUser(t, "active@example.com", "right-pass", auth.UserStatusActive, panel)
	f.seedUser(t, "passive@example.com", "right-pass", auth.UserStatusPassive, panel)

	cases := []struct {
		name string
		req  auth.LoginRequest
		want error
	}{
		{"unknown email", auth.LoginRequest{EmailAddress: "nobody@example.com", Password: "right-pass"}, auth.ErrEmailAddressNotValid},
		{"wrong password", auth.LoginRequest{EmailAddress: "active@example.com", Password: "wrong-pass"}, auth.ErrPasswordNotValid},
		{"passive user", auth.LoginRequest{EmailAddress: "passive@example.com", Password: "right-pass"}, auth.ErrUserNotActive},
		{"no page access", auth.LoginRequest{EmailAddress: "active@example.com", Password: "right-pass", SourcePage: auth.SourcePageLanding}, auth.ErrUserDoesNotAccessPage},
		{"unknown page", auth.LoginRequest{EmailAddress: "active@example.com", Password: "right-pass", SourcePage: "ADMIN"}, auth.ErrInvalidInput},
		{"missing password", auth.LoginRequest{EmailAddress: "active@example.com"}, auth.ErrInvalidInput},
	}
	for _, tc := range cases {
		_, err := f.authn.Authenticate(context.Background(), tc.req)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := f.authn.Authenticate(context.Background(), auth.LoginRequest{EmailAddress: "x@example.com", Password: "p"}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("credential failures must be unauthorized, got %v", err)
	}
}

func TestRefreshDoesNotRotate(t *testing.T) {
	f := newFixture(t)
	panel := f.seedRole(t, "panel", auth.RoleStatusActive, auth.PermInstitutionPage)
	user := f.seedUser(t, "ops@example.com", "s3cret-pass", auth.UserStatusActive, panel)
	ctx := context.Background()

	tok, err := f.authn.Authenticate(ctx, auth.LoginRequest{EmailAddress: user.EmailAddress, Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	f.clock.Advance(40 * time.Minute)
	if err := f.codec.VerifyAndValidate(tok.AccessToken); err == nil {
		t.Fatal("access token should have expired")
	}

	refreshed, err := f.authn.RefreshAccessToken(ctx, tok.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if refreshed.RefreshToken != tok.RefreshToken {
		t.Fatal("refresh token rotated")
	}
	if err := f.codec.VerifyAndValidate(refreshed.AccessToken); err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}

	if err := f.users.Passivate(ctx, user.ID); err != nil {
		t.Fatalf("Passivate: %v", err)
	}
	if _, err := f.authn.RefreshAccessToken(ctx, tok.RefreshToken); !errors.Is(err, auth.ErrUserNotActive) {
		t.Fatalf("expected ErrUserNotActive, got %v", err)
	}

	if _, err := f.authn.RefreshAccessToken(ctx, "garbage"); !errors.Is(err, auth.ErrTokenNotValid) {
		t.Fatalf("expected ErrTokenNotValid, got %v", err)
	}
}

func TestInvalidateThenRefreshFails(t *testing.T) {
	f := newFixture(t)
	panel := f.seedRole(t, "panel", auth.RoleStatusActive, auth.PermInstitutionPage)
	user := f.seedUser(t, "ops@example.com", "s3cret-pass", auth.UserStatusActive, panel)
	ctx := context.Background()

	tok, err := f.authn.Authenticate(ctx, auth.LoginRequest{EmailAddress: user.EmailAddress, Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	identity, err := f.codec.Authentication(tok.AccessToken)
	if err != nil {
		t.Fatalf("Authentication: %v", err)
	}

	if err := f.authn.InvalidateTokens(ctx, tok.RefreshToken); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("invalidate without identity must be unauthorized, got %v", err)
	}

	authed := auth.ContextWithIdentity(ctx, identity)
	if err := f.authn.InvalidateTokens(authed, tok.RefreshToken); err != nil {
		t.Fatalf("InvalidateTokens: %v", err)
	}

	if err := f.ledger.CheckForInvalidityOfToken(ctx, identity.TokenID); !errors.Is(err, auth.ErrTokenAlreadyInvalidated) {
		t.Fatalf("access jti must be recorded, got %v", err)
	}
	if _, err := f.authn.RefreshAccessToken(ctx, tok.RefreshToken); !errors.Is(err, auth.ErrTokenAlreadyInvalidated) {
		t.Fatalf("refresh after invalidate: expected ErrTokenAlreadyInvalidated, got %v", err)
	}
	if err := f.authn.InvalidateTokens(authed, tok.RefreshToken); !errors.Is(err, auth.ErrTokenAlreadyInvalidated) {
		t.Fatalf("second invalidate: expected ErrTokenAlreadyInvalidated, got %v", err)
	}
}

func TestInvalidateRejectsForeignRefreshToken(t *testing.T) {
	f := newFixture(t)
	panel := f.seedRole(t, "panel", auth.RoleStatusActive, auth.PermInstitutionPage)
	alice := f.seedUser(t, "alice@example.com", "alice-pass", auth.UserStatusActive, panel)
	bob := f.seedUser(t, "bob@example.com", "bob-pass1", auth.UserStatusActive, panel)
	ctx := context.Background()

	aliceTok, err := f.authn.Authenticate(ctx, auth.LoginRequest{EmailAddress: alice.EmailAddress, Password: "alice-pass"})
	if err != nil {
		t.Fatalf("Authenticate alice: %v", err)
	}
	bobTok, err := f.authn.Authenticate(ctx, auth.LoginRequest{EmailAddress: bob.EmailAddress, Password: "bob-pass1"})
	if err != nil {
		t.Fatalf("Authenticate bob: %v", err)
	}
	identity, _ := f.codec.Authentication(aliceTok.AccessToken)

	err = f.authn.InvalidateTokens(auth.ContextWithIdentity(ctx, identity), bobTok.RefreshToken)
	if !errors.Is(err, auth.ErrTokenNotValid) {
		t.Fatalf("expected ErrTokenNotValid, got %v", err)
	}
	if _, err := f.authn.RefreshAccessToken(ctx, bobTok.RefreshToken); err != nil {
		t.Fatalf("bob's refresh token must stay usable: %v", err)
	}
}

func TestTokenUseIsEnforced(t *testing.T) {
	f := newFixture(t)
	panel := f.seedRole(t, "panel", auth.RoleStatusActive, auth.PermInstitutionPage)
	user := f.seedUser(t, "ops@example.com", "s3cret-pass", auth.UserStatusActive, panel)
	ctx := context.Background()

	tok, err := f.authn.Authenticate(ctx, auth.LoginRequest{EmailAddress: user.EmailAddress, Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := f.authn.RefreshAccessToken(ctx, tok.AccessToken); !errors.Is(err, auth.ErrTokenNotValid) {
		t.Fatalf("refresh with access token: expected ErrTokenNotValid, got %v", err)
	}

	identity, err := f.codec.Authentication(tok.AccessToken)
	if err != nil {
		t.Fatalf("Authentication: %v", err)
	}
	authed := auth.ContextWithIdentity(ctx, identity)
	if err := f.authn.InvalidateTokens(authed, tok.AccessToken); !errors.Is(err, auth.ErrTokenNotValid) {
		t.Fatalf("invalidate with access token: expected ErrTokenNotValid, got %v", err)
	}
	if err := f.ledger.CheckForInvalidityOfToken(ctx, identity.TokenID); err != nil {
		t.Fatalf("nothing must be recorded on a rejected invalidate: %v", err)
	}
}

func TestLedgerDedupesAndSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.InvalidateTokens(ctx, "a", "a", " ", "b"); err != nil {
		t.Fatalf("InvalidateTokens: %v", err)
	}
	f.clock.Advance(time.Hour)
	cutoff := f.clock.Now()
	if err := f.ledger.InvalidateTokens(ctx, "c"); err != nil {
		t.Fatalf("InvalidateTokens: %v", err)
	}

	n, err := f.ledger.DeleteAllCreatedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteAllCreatedBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d records, want 2", n)
	}
	if err := f.ledger.CheckForInvalidityOfToken(ctx, "a"); err != nil {
		t.Fatalf("swept id must be forgotten: %v", err)
	}
	if err := f.ledger.CheckForInvalidityOfToken(ctx, "c"); !errors.Is(err, auth.ErrTokenAlreadyInvalidated) {
		t.Fatalf("recent id must survive the sweep, got %v", err)
	}
	if err := f.ledger.InvalidateTokens(ctx); err != nil {
		t.Fatalf("empty invalidate: %v", err)
	}
}

func TestPermissionServiceHidesSuper(t *testing.T) {
	f := newFixture(t)

	all, err := f.perms.FindAll(superContext())
	if err != nil {
		t.Fatalf("FindAll super: %v", err)
	}
	if len(all) != len(auth.BuiltinPermissions) {
		t.Fatalf("super sees %d permissions, want %d", len(all), len(auth.BuiltinPermissions))
	}

	limited, err := f.perms.FindAll(asIdentity(auth.PermRoleList))
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(limited) != len(auth.BuiltinPermissions)-1 {
		t.Fatalf("non-super sees %d permissions", len(limited))
	}
	for _, p := range limited {
		if p.IsSuper {
			t.Fatalf("super permission leaked: %+v", p)
		}
	}

	if _, err := f.perms.FindAll(context.Background()); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
