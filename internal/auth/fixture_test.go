package auth_test

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"tessera.org/internal/auth"
	"tessera.org/internal/ids"
	"tessera.org/internal/mail"
	"tessera.org/internal/parameter"
	"tessera.org/internal/store/memory"
)

var (
	fixtureKeyOnce sync.Once
	fixtureKey     *rsa.PrivateKey
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mailbox struct {
	mu   sync.Mutex
	sent []mail.Mail
}

func (m *mailbox) Send(_ context.Context, msg mail.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailbox) last(t *testing.T) mail.Mail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fixture struct {
	clock     *clock
	store     *memory.Store
	codec     *auth.Codec
	ledger    *auth.Ledger
	authn     *auth.Authenticator
	roles     *auth.RoleService
	users     *auth.UserService
	passwords *auth.PasswordService
	perms     *auth.PermissionService
	mails     *mailbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fixtureKeyOnce.Do(func() {
		k, err := auth.GenerateDevKey()
		if err != nil {
			panic(err)
		}
		fixtureKey = k
	})

	clk := &clock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	store := memory.New()
	store.PutParameter(parameter.Parameter{ID: ids.New(), Name: parameter.FrontendURL.Name, Definition: "https://panel.example.com/"})
	params := parameter.NewService(store.Parameters(), 16, time.Minute)

	codec, err := auth.NewCodec(
		auth.WithRSAKey(fixtureKey),
		auth.WithKeyID("fixture"),
		auth.WithAccessTTL(30*time.Minute),
		auth.WithRefreshTTL(24*time.Hour),
		auth.WithClock(clk.Now),
	)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	ledger := auth.NewLedger(store.InvalidTokens(), clk.Now)
	mails := &mailbox{}
	return &fixture{
		clock:     clk,
		store:     store,
		codec:     codec,
		ledger:    ledger,
		authn:     auth.NewAuthenticator(store.Users(), codec, ledger, clk.Now),
		roles:     auth.NewRoleService(store.Roles(), store.Permissions(), clk.Now),
		users:     auth.NewUserService(store.Users(), store.Roles(), mails, params, clk.Now),
		passwords: auth.NewPasswordService(store.Users(), mails, params, clk.Now),
		perms:     auth.NewPermissionService(store.Permissions()),
		mails:     mails,
	}
}

func permission(t *testing.T, name string) auth.Permission {
	t.Helper()
	for _, p := range auth.BuiltinPermissions {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("unknown permission %q", name)
	return auth.Permission{}
}

func permissionIDs(t *testing.T, names ...string) []string {
	t.Helper()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, permission(t, n).ID)
	}
	return out
}

func (f *fixture) seedRole(t *testing.T, name string, status auth.RoleStatus, perms ...string) auth.Role {
	t.Helper()
	role := auth.Role{
		ID:        ids.New(),
		Name:      name,
		Status:    status,
		CreatedAt: f.clock.Now(),
	}
	for _, p := range perms {
		role.Permissions = append(role.Permissions, permission(t, p))
	}
	if err := f.store.Roles().Save(context.Background(), &role); err != nil {
		t.Fatalf("seed role: %v", err)
	}
	return role
}

func (f *fixture) seedUser(t *testing.T, email, password string, status auth.UserStatus, roles ...auth.Role) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := f.clock.Now()
	user := &auth.User{
		ID:           ids.New(),
		EmailAddress: email,
		FullName:     "Seeded " + email,
		Status:       status,
		Roles:        roles,
		Password:     &auth.Password{ID: ids.New(), Value: hash, CreatedAt: now, UpdatedAt: &now},
		CreatedAt:    now,
	}
	if err := f.store.Users().Save(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func asIdentity(perms ...string) context.Context {
	return auth.ContextWithIdentity(context.Background(), auth.Identity{UserID: "actor", Permissions: perms})
}

func superContext() context.Context {
	return asIdentity(auth.PermSuper)
}
