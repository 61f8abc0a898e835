package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tessera.org/internal/ids"
	"tessera.org/internal/obs"
)

type LoginRequest struct {
	EmailAddress string     `json:"emailAddress"`
	Password     string     `json:"password"`
	SourcePage   SourcePage `json:"sourcePage"`
}

// Authenticator issues, refreshes and revokes tokens for users.
type Authenticator struct {
	users  UserStore
	codec  *Codec
	ledger *Ledger
	now    func() time.Time
}

// NewAuthenticator wires the login, refresh and invalidation flows.
func NewAuthenticator(users UserStore, codec *Codec, ledger *Ledger, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{users: users, codec: codec, ledger: ledger, now: now}
}

// Authenticate checks credentials, status and page access, stamps the login
// time and issues a token pair.
func (a *Authenticator) Authenticate(ctx context.Context, req LoginRequest) (Token, error) {
	pagePermission, err := req.SourcePage.Permission()
	if err != nil {
		return Token{}, err
	}
	email := strings.ToLower(strings.TrimSpace(req.EmailAddress))
	if email == "" || req.Password == "" {
		return Token{}, fmt.Errorf("%w: emailAddress and password are required", ErrInvalidInput)
	}

	user, err := a.users.FindByEmailAddress(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.AuthFailure("email")
			return Token{}, ErrEmailAddressNotValid
		}
		return Token{}, err
	}
	if user.Password == nil || VerifyPassword(user.Password.Value, req.Password) != nil {
		obs.AuthFailure("password")
		return Token{}, ErrPasswordNotValid
	}
	if !user.IsActive() {
		obs.AuthFailure("status")
		return Token{}, ErrUserNotActive
	}
	claims := ClaimsOf(user)
	if !slices.Contains(claims.Permissions, pagePermission) {
		obs.AuthFailure("page")
		return Token{}, ErrUserDoesNotAccessPage
	}

	now := a.now().UTC()
	if user.LoginAttempt == nil {
		user.LoginAttempt = &LoginAttempt{ID: ids.New()}
	}
	user.LoginAttempt.LastLoginAt = &now
	if err := a.users.Save(ctx, user); err != nil {
		return Token{}, err
	}
	return a.codec.Generate(ClaimsOf(user))
}

// RefreshAccessToken issues a new access token for a valid, non-invalidated
// refresh token. The refresh token itself is returned unchanged.
func (a *Authenticator) RefreshAccessToken(ctx context.Context, refreshToken string) (Token, error) {
	payload, err := a.codec.RefreshPayload(refreshToken)
	if err != nil {
		return Token{}, err
	}
	if err := a.ledger.CheckForInvalidityOfToken(ctx, payload.ID); err != nil {
		return Token{}, err
	}
	user, err := a.users.FindByID(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Token{}, ErrUserIDNotValid
		}
		return Token{}, err
	}
	if !user.IsActive() {
		return Token{}, ErrUserNotActive
	}
	return a.codec.GenerateWithRefresh(ClaimsOf(user), refreshToken)
}

// InvalidateTokens revokes the caller's current access token together with the
// given refresh token. The access token id always comes from the request identity.
func (a *Authenticator) InvalidateTokens(ctx context.Context, refreshToken string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.TokenID == "" {
		return ErrUnauthorized
	}
	payload, err := a.codec.RefreshPayload(refreshToken)
	if err != nil {
		return err
	}
	if payload.UserID != identity.UserID {
		return fmt.Errorf("%w: refresh token belongs to another user", ErrTokenNotValid)
	}
	if err := a.ledger.CheckForInvalidityOfToken(ctx, payload.ID); err != nil {
		return err
	}
	return a.ledger.InvalidateTokens(ctx, identity.TokenID, payload.ID)
}
