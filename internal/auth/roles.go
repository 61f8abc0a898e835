package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tessera.org/internal/ids"
)

const maxRoleNameLength = 255

type RoleCreateRequest struct {
	Name          string   `json:"name"`
	PermissionIDs []string `json:"permissionIds"`
	InstitutionID string   `json:"institutionId,omitempty"`
}

type RoleUpdateRequest struct {
	Name          string   `json:"name"`
	PermissionIDs []string `json:"permissionIds"`
}

func validateRoleInput(name string, permissionIDs []string) (string, []string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxRoleNameLength {
		return "", nil, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	permissionIDs = uniqueIDs(permissionIDs)
	if len(permissionIDs) == 0 {
		return "", nil, fmt.Errorf("%w: permissionIds must not be empty", ErrInvalidInput)
	}
	return name, permissionIDs, nil
}

// RoleService drives the role lifecycle: ACTIVE <-> PASSIVE -> DELETED.
type RoleService struct {
	roles       RoleStore
	permissions PermissionStore
	now         func() time.Time
}

// NewRoleService manages role lifecycle over the role and permission stores.
func NewRoleService(roles RoleStore, permissions PermissionStore, now func() time.Time) *RoleService {
	if now == nil {
		now = time.Now
	}
	return &RoleService{roles: roles, permissions: permissions, now: now}
}

func (s *RoleService) FindAll(ctx context.Context, filter RoleFilter, page Pageable) (Page[Role], error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return Page[Role]{}, fmt.Errorf("%w: unknown role status %q", ErrInvalidInput, st)
		}
	}
	return s.roles.FindAll(ctx, filter, page.Normalize())
}

// FindAllActives lists active roles, optionally scoped to an institution.
func (s *RoleService) FindAllActives(ctx context.Context, institutionID string) ([]Role, error) {
	return s.roles.FindAllActives(ctx, strings.TrimSpace(institutionID))
}

func (s *RoleService) FindByID(ctx context.Context, id string) (*Role, error) {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: roleId %s", ErrRoleNotExistByID, id)
		}
		return nil, err
	}
	return role, nil
}

// Create stores a new ACTIVE role. Super permissions may only be granted by a super identity.
func (s *RoleService) Create(ctx context.Context, req RoleCreateRequest) (*Role, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	name, permissionIDs, err := validateRoleInput(req.Name, req.PermissionIDs)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameUnique(ctx, name, ""); err != nil {
		return nil, err
	}
	perms, err := s.resolvePermissions(ctx, identity, permissionIDs)
	if err != nil {
		return nil, err
	}
	role := &Role{
		ID:            ids.New(),
		Name:          name,
		Status:        RoleStatusActive,
		InstitutionID: strings.TrimSpace(req.InstitutionID),
		Permissions:   perms,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.roles.Save(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// Update renames the role and replaces its permissions.
func (s *RoleService) Update(ctx context.Context, id string, req RoleUpdateRequest) (*Role, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	name, permissionIDs, err := validateRoleInput(req.Name, req.PermissionIDs)
	if err != nil {
		return nil, err
	}
	role, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameUnique(ctx, name, role.ID); err != nil {
		return nil, err
	}
	perms, err := s.resolvePermissions(ctx, identity, permissionIDs)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	role.Name = name
	role.Permissions = perms
	role.UpdatedAt = &now
	if err := s.roles.Save(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RoleService) Activate(ctx context.Context, id string) error {
	role, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !role.IsPassive() {
		return fmt.Errorf("%w: expected %s", ErrInvalidRoleStatus, RoleStatusPassive)
	}
	return s.transition(ctx, role, RoleStatusActive)
}

// Passivate is refused while any user holds the role.
func (s *RoleService) Passivate(ctx context.Context, id string) error {
	role, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkNotInUse(ctx, role.ID); err != nil {
		return err
	}
	if !role.IsActive() {
		return fmt.Errorf("%w: expected %s", ErrInvalidRoleStatus, RoleStatusActive)
	}
	return s.transition(ctx, role, RoleStatusPassive)
}

// Delete is refused while any user holds the role.
func (s *RoleService) Delete(ctx context.Context, id string) error {
	role, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkNotInUse(ctx, role.ID); err != nil {
		return err
	}
	if role.IsDeleted() {
		return fmt.Errorf("%w: roleId %s", ErrRoleAlreadyDeleted, role.ID)
	}
	return s.transition(ctx, role, RoleStatusDeleted)
}

func (s *RoleService) transition(ctx context.Context, role *Role, to RoleStatus) error {
	now := s.now().UTC()
	role.Status = to
	role.UpdatedAt = &now
	return s.roles.Save(ctx, role)
}

func (s *RoleService) checkNotInUse(ctx context.Context, id string) error {
	using, err := s.roles.IsRoleUsing(ctx, id)
	if err != nil {
		return err
	}
	if using {
		return fmt.Errorf("%w: roleId %s", ErrRoleAssignedToUser, id)
	}
	return nil
}

func (s *RoleService) checkNameUnique(ctx context.Context, name, selfID string) error {
	existing, err := s.roles.FindByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == selfID:
		return nil
	default:
		return fmt.Errorf("%w: name %s", ErrRoleAlreadyExistsByName, name)
	}
}

func (s *RoleService) resolvePermissions(ctx context.Context, identity Identity, permissionIDs []string) ([]Permission, error) {
	perms, err := s.permissions.FindAllByIDs(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}
	if len(perms) != len(permissionIDs) {
		found := make([]string, 0, len(perms))
		for _, p := range perms {
			found = append(found, p.ID)
		}
		return nil, fmt.Errorf("%w: permissionIds %v", ErrPermissionNotExist, missingIDs(permissionIDs, found))
	}
	if err := CheckSuperPermissions(identity, perms); err != nil {
		return nil, err
	}
	return perms, nil
}

func uniqueIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(want, found []string) []string {
	var out []string
	for _, id := range want {
		if !slices.Contains(found, id) {
			out = append(out, id)
		}
	}
	return out
}
