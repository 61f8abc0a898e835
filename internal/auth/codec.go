package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"tessera.org/internal/ids"
	"tessera.org/internal/obs"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 24 * time.Hour

	tokenType = "Bearer"
)

// Token uses carried in the tokenUse claim.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// UserClaims are the user-level claims carried by an access token.
type UserClaims struct {
	UserID       string
	FullName     string
	EmailAddress string
	Permissions  []string
	LastLoginAt  *time.Time
}

// ClaimsOf builds access token claims from a user and its roles.
func ClaimsOf(u *User) UserClaims {
	c := UserClaims{
		UserID:       u.ID,
		FullName:     u.FullName,
		EmailAddress: u.EmailAddress,
		Permissions:  u.PermissionNames(),
	}
	if u.LoginAttempt != nil && u.LoginAttempt.LastLoginAt != nil {
		t := u.LoginAttempt.LastLoginAt.UTC()
		c.LastLoginAt = &t
	}
	return c
}

// TokenClaims is the verified payload of an access or refresh token.
type TokenClaims struct {
	UserID       string     `json:"userId"`
	FullName     string     `json:"userFullName,omitempty"`
	EmailAddress string     `json:"userEmailAddress,omitempty"`
	Permissions  []string   `json:"userPermissions,omitempty"`
	LastLoginAt  *time.Time `json:"userLastLoginAt,omitempty"`
	Use          string     `json:"tokenUse"`
	jwt.RegisteredClaims
}

// Token is the pair handed to clients. AccessTokenExpiresAt is in epoch seconds.
type Token struct {
	AccessToken          string `json:"accessToken"`
	AccessTokenExpiresAt int64  `json:"accessTokenExpiresAt"`
	RefreshToken         string `json:"refreshToken"`
}

// Codec issues and verifies RS256 JWTs. Verification resolves the key through
// a JWK set by kid, the same set that is published for external verifiers.
type Codec struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time

	jwks    jwkset.Storage
	keyfunc keyfunc.Keyfunc
	parser  *jwt.Parser
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec) error

// WithRS256Keys configures RSA keys used for signing and verifying JWTs.
func WithRS256Keys(privatePEM, publicPEM string) CodecOption {
	return func(c *Codec) error {
		privatePEM = strings.TrimSpace(privatePEM)
		publicPEM = strings.TrimSpace(publicPEM)
		if privatePEM == "" || publicPEM == "" {
			return errors.New("auth: both private and public keys are required")
		}
		priv, err := parseRSAPrivateKey(privatePEM)
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		pub, err := parseRSAPublicKey(publicPEM)
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		if !priv.PublicKey.Equal(pub) {
			return errors.New("auth: public key does not match private key")
		}
		c.privateKey = priv
		c.publicKey = pub
		return nil
	}
}

// WithRSAKey uses an in-memory key pair.
func WithRSAKey(key *rsa.PrivateKey) CodecOption {
	return func(c *Codec) error {
		if key == nil {
			return errors.New("auth: nil private key")
		}
		c.privateKey = key
		c.publicKey = &key.PublicKey
		return nil
	}
}

// WithKeyID sets the key identifier embedded into JWT headers.
func WithKeyID(kid string) CodecOption {
	return func(c *Codec) error {
		c.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuer sets the iss claim; verification then requires it.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl > 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
		return nil
	}
}

// WithLeeway tolerates clock skew on exp.
func WithLeeway(d time.Duration) CodecOption {
	return func(c *Codec) error {
		if d >= 0 {
			c.leeway = d
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec constructs a Codec. A key pair is mandatory.
func NewCodec(opts ...CodecOption) (*Codec, error) {
	c := &Codec{
		keyID:      "tessera-rs256",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.privateKey == nil || c.publicKey == nil {
		return nil, errors.New("auth: signing key is not configured")
	}
	if c.keyID == "" {
		return nil, errors.New("auth: key id is required")
	}

	ctx := context.Background()
	jwk, err := jwkset.NewJWKFromKey(c.publicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: c.keyID,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("auth: build jwk: %w", err)
	}
	c.jwks = jwkset.NewMemoryStorage()
	if err := c.jwks.KeyWrite(ctx, jwk); err != nil {
		return nil, fmt.Errorf("auth: store jwk: %w", err)
	}
	c.keyfunc, err = keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: c.jwks})
	if err != nil {
		return nil, fmt.Errorf("auth: keyfunc: %w", err)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	c.parser = jwt.NewParser(parserOpts...)
	return c, nil
}

// AccessTTL reports the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// Generate issues a fresh access and refresh token pair.
func (c *Codec) Generate(claims UserClaims) (Token, error) {
	now := c.now()
	refresh, err := c.sign(&TokenClaims{
		UserID:           claims.UserID,
		Use:              TokenUseRefresh,
		RegisteredClaims: c.registered(now, c.refreshTTL),
	})
	if err != nil {
		return Token{}, err
	}
	obs.TokenIssued("refresh")
	return c.GenerateWithRefresh(claims, refresh)
}

// GenerateWithRefresh issues a new access token and hands back refreshToken unchanged.
func (c *Codec) GenerateWithRefresh(claims UserClaims, refreshToken string) (Token, error) {
	now := c.now()
	registered := c.registered(now, c.accessTTL)
	access, err := c.sign(&TokenClaims{
		UserID:           claims.UserID,
		FullName:         claims.FullName,
		EmailAddress:     claims.EmailAddress,
		Permissions:      claims.Permissions,
		LastLoginAt:      claims.LastLoginAt,
		Use:              TokenUseAccess,
		RegisteredClaims: registered,
	})
	if err != nil {
		return Token{}, err
	}
	obs.TokenIssued("access")
	return Token{
		AccessToken:          access,
		AccessTokenExpiresAt: registered.ExpiresAt.Unix(),
		RefreshToken:         refreshToken,
	}, nil
}

func (c *Codec) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        ids.TokenID(),
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims *TokenClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["typ"] = tokenType
	tok.Header["kid"] = c.keyID
	signed, err := tok.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyAndValidate checks signature, algorithm, typ header, issuer and expiry.
func (c *Codec) VerifyAndValidate(token string) error {
	_, err := c.parse(token)
	return err
}

// Payload verifies token and returns its claims.
func (c *Codec) Payload(token string) (*TokenClaims, error) {
	return c.parse(token)
}

// RefreshPayload is Payload restricted to refresh tokens.
func (c *Codec) RefreshPayload(token string) (*TokenClaims, error) {
	return c.parseUse(token, TokenUseRefresh)
}

// Authentication verifies an access token and builds the request identity.
// Refresh tokens are rejected.
func (c *Codec) Authentication(token string) (Identity, error) {
	claims, err := c.parseUse(token, TokenUseAccess)
	if err != nil {
		return Identity{}, err
	}
	perms := claims.Permissions
	if perms == nil {
		perms = []string{}
	}
	return Identity{
		UserID:       claims.UserID,
		FullName:     claims.FullName,
		EmailAddress: claims.EmailAddress,
		Permissions:  perms,
		LastLoginAt:  claims.LastLoginAt,
		TokenID:      claims.ID,
		AccessToken:  token,
	}, nil
}

// JWKS returns the public JWK set as JSON.
func (c *Codec) JWKS(ctx context.Context) (json.RawMessage, error) {
	return c.jwks.JSONPublic(ctx)
}

func (c *Codec) parse(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotValid
	}
	claims := &TokenClaims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, c.verificationKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotValid, err.Error())
	}
	if typ, _ := parsed.Header["typ"].(string); typ != tokenType {
		return nil, fmt.Errorf("%w: unexpected typ header %q", ErrTokenNotValid, typ)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing userId or jti", ErrTokenNotValid)
	}
	return claims, nil
}

func (c *Codec) parseUse(token, use string) (*TokenClaims, error) {
	claims, err := c.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Use != use {
		return nil, fmt.Errorf("%w: %s token expected", ErrTokenNotValid, use)
	}
	return claims, nil
}

// verificationKey only resolves our own kid; keyfunc alone falls back to the
// whole set when the header carries none.
func (c *Codec) verificationKey(tok *jwt.Token) (any, error) {
	kid, _ := tok.Header["kid"].(string)
	if kid != c.keyID {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return c.keyfunc.Keyfunc(tok)
}
