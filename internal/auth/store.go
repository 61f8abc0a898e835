package auth

import (
	"context"
	"time"

	"tessera.org/internal/mail"
	"tessera.org/internal/parameter"
)

// UserStore persists users together with their password, login attempt and
// role assignments. Lookups return ErrNotFound when nothing matches.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmailAddress(ctx context.Context, email string) (*User, error)
	FindByPasswordID(ctx context.Context, passwordID string) (*User, error)
	ExistsByEmailAddress(ctx context.Context, email string) (bool, error)
	FindAll(ctx context.Context, filter UserFilter, page Pageable) (Page[User], error)
	Save(ctx context.Context, user *User) error
}

// RoleStore persists roles and their permission links.
type RoleStore interface {
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	FindAllByIDs(ctx context.Context, ids []string) ([]Role, error)
	FindAllActives(ctx context.Context, institutionID string) ([]Role, error)
	FindAll(ctx context.Context, filter RoleFilter, page Pageable) (Page[Role], error)
	IsRoleUsing(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, role *Role) error
}

type PermissionStore interface {
	FindAll(ctx context.Context) ([]Permission, error)
	FindAllNonSuper(ctx context.Context) ([]Permission, error)
	FindAllByIDs(ctx context.Context, ids []string) ([]Permission, error)
}

// InvalidTokenStore is the backing store of the invalidation ledger.
type InvalidTokenStore interface {
	FindByTokenID(ctx context.Context, tokenID string) (*InvalidToken, error)
	SaveAll(ctx context.Context, tokens []InvalidToken) error
	DeleteAllCreatedBefore(ctx context.Context, threshold time.Time) (int64, error)
}

type MailSender interface {
	Send(ctx context.Context, m mail.Mail) error
}

type ParameterReader interface {
	Definition(ctx context.Context, key parameter.Key) string
}
