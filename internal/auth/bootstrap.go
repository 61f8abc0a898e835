package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tessera.org/internal/ids"
)

// AdminRoleName is the role created for the first administrator.
const AdminRoleName = "ADMIN"

// BootstrapAdmin creates an ACTIVE user holding every permission through the
// ADMIN role, creating the role when it does not exist. The password is
// settled, so no create-password link is issued.
func BootstrapAdmin(ctx context.Context, users UserStore, roles RoleStore, perms PermissionStore, email, fullName, password string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	fullName = strings.TrimSpace(fullName)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email address and password are required", ErrInvalidInput)
	}
	if fullName == "" {
		fullName = "Administrator"
	}
	exists, err := users.ExistsByEmailAddress(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrUserAlreadyExistsByEmailAddress, email)
	}

	now = now.UTC()
	role, err := roles.FindByName(ctx, AdminRoleName)
	switch {
	case errors.Is(err, ErrNotFound):
		all, err := perms.FindAll(ctx)
		if err != nil {
			return nil, err
		}
		role = &Role{ID: ids.New(), Name: AdminRoleName, Status: RoleStatusActive, Permissions: all, CreatedAt: now}
		if err := roles.Save(ctx, role); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.New(),
		EmailAddress: email,
		FullName:     fullName,
		Status:       UserStatusActive,
		Roles:        []Role{*role},
		Password:     &Password{ID: ids.New(), Value: hash, CreatedAt: now, UpdatedAt: &now},
		CreatedAt:    now,
	}
	if err := users.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
