package auth_test

import (
	"context"
	"errors"
	"testing"

	"tessera.org/internal/auth"
)

func TestRoleCreateGuardsSuperPermission(t *testing.T) {
	f := newFixture(t)

	req := auth.RoleCreateRequest{
		Name:          "root",
		PermissionIDs: permissionIDs(t, auth.PermSuper, auth.PermRoleList),
	}
	if _, err := f.roles.Create(asIdentity(auth.PermRoleCreate), req); !errors.Is(err, auth.ErrUserNotSuperAdmin) {
		t.Fatalf("expected ErrUserNotSuperAdmin, got %v", err)
	}
	if _, err := f.roles.Create(asIdentity(auth.PermRoleCreate), req); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("super grant must be an input error, got %v", err)
	}

	role, err := f.roles.Create(superContext(), req)
	if err != nil {
		t.Fatalf("Create as super: %v", err)
	}
	if role.Status != auth.RoleStatusActive || len(role.Permissions) != 2 {
		t.Fatalf("unexpected role: %+v", role)
	}

	if _, err := f.roles.Create(context.Background(), req); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRoleCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := asIdentity(auth.PermRoleCreate)

	if _, err := f.roles.Create(ctx, auth.RoleCreateRequest{Name: "viewer", PermissionIDs: permissionIDs(t, auth.PermUserList)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cases := []struct {
		name string
		req  auth.RoleCreateRequest
		want error
	}{
		{"duplicate name", auth.RoleCreateRequest{Name: " viewer ", PermissionIDs: permissionIDs(t, auth.PermUserList)}, auth.ErrRoleAlreadyExistsByName},
		{"blank name", auth.RoleCreateRequest{Name: "  ", PermissionIDs: permissionIDs(t, auth.PermUserList)}, auth.ErrInvalidInput},
		{"no permissions", auth.RoleCreateRequest{Name: "empty"}, auth.ErrInvalidInput},
		{"unknown permission", auth.RoleCreateRequest{Name: "ghost", PermissionIDs: []string{"01J0000000000000000000ZZZZ"}}, auth.ErrPermissionNotExist},
	}
	for _, tc := range cases {
		if _, err := f.roles.Create(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := f.roles.Create(ctx, auth.RoleCreateRequest{Name: "ghost", PermissionIDs: []string{"nope"}}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("unknown permission must be a lookup failure, got %v", err)
	}
}

func TestRoleUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := asIdentity(auth.PermRoleUpdate)
	role := f.seedRole(t, "viewer", auth.RoleStatusActive, auth.PermUserList)
	f.seedRole(t, "editor", auth.RoleStatusActive, auth.PermUserUpdate)

	updated, err := f.roles.Update(ctx, role.ID, auth.RoleUpdateRequest{
		Name:          "viewer",
		PermissionIDs: permissionIDs(t, auth.PermUserList, auth.PermUserDetail),
	})
	if err != nil {
		t.Fatalf("Update keeping name: %v", err)
	}
	if len(updated.Permissions) != 2 || updated.UpdatedAt == nil {
		t.Fatalf("unexpected update: %+v", updated)
	}

	_, err = f.roles.Update(ctx, role.ID, auth.RoleUpdateRequest{Name: "editor", PermissionIDs: permissionIDs(t, auth.PermUserList)})
	if !errors.Is(err, auth.ErrRoleAlreadyExistsByName) {
		t.Fatalf("expected ErrRoleAlreadyExistsByName, got %v", err)
	}
	_, err = f.roles.Update(ctx, role.ID, auth.RoleUpdateRequest{Name: "viewer", PermissionIDs: permissionIDs(t, auth.PermSuper)})
	if !errors.Is(err, auth.ErrUserNotSuperAdmin) {
		t.Fatalf("expected ErrUserNotSuperAdmin, got %v", err)
	}
	_, err = f.roles.Update(ctx, "missing", auth.RoleUpdateRequest{Name: "x", PermissionIDs: permissionIDs(t, auth.PermUserList)})
	if !errors.Is(err, auth.ErrRoleNotExistByID) {
		t.Fatalf("expected ErrRoleNotExistByID, got %v", err)
	}
}

func TestRoleLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role := f.seedRole(t, "viewer", auth.RoleStatusActive, auth.PermUserList)

	if err := f.roles.Activate(ctx, role.ID); !errors.Is(err, auth.ErrInvalidRoleStatus) {
		t.Fatalf("activate active: expected ErrInvalidRoleStatus, got %v", err)
	}
	if err := f.roles.Passivate(ctx, role.ID); err != nil {
		t.Fatalf("Passivate: %v", err)
	}
	if err := f.roles.Passivate(ctx, role.ID); !errors.Is(err, auth.ErrInvalidRoleStatus) {
		t.Fatalf("passivate passive: expected ErrInvalidRoleStatus, got %v", err)
	}
	if err := f.roles.Activate(ctx, role.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := f.roles.Delete(ctx, role.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := f.roles.FindByID(ctx, role.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !got.IsDeleted() {
		t.Fatalf("status = %s, want DELETED", got.Status)
	}
	if err := f.roles.Delete(ctx, role.ID); !errors.Is(err, auth.ErrRoleAlreadyDeleted) {
		t.Fatalf("expected ErrRoleAlreadyDeleted, got %v", err)
	}
	if err := f.roles.Activate(ctx, role.ID); !errors.Is(err, auth.ErrInvalidRoleStatus) {
		t.Fatalf("deleted roles stay deleted, got %v", err)
	}
	if _, err := f.roles.FindByID(ctx, "missing"); !errors.Is(err, auth.ErrRoleNotExistByID) {
		t.Fatalf("expected ErrRoleNotExistByID, got %v", err)
	}
}

func TestRoleInUseCannotBePassivatedOrDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role := f.seedRole(t, "viewer", auth.RoleStatusActive, auth.PermUserList)
	f.seedUser(t, "holder@example.com", "holder-pass", auth.UserStatusActive, role)

	if err := f.roles.Passivate(ctx, role.ID); !errors.Is(err, auth.ErrRoleAssignedToUser) {
		t.Fatalf("expected ErrRoleAssignedToUser, got %v", err)
	}
	if err := f.roles.Delete(ctx, role.ID); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRoleFindAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRole(t, "viewer", auth.RoleStatusActive, auth.PermUserList)
	f.seedRole(t, "old viewer", auth.RoleStatusPassive, auth.PermUserList)
	f.seedRole(t, "editor", auth.RoleStatusActive, auth.PermUserUpdate)

	page, err := f.roles.FindAll(ctx, auth.RoleFilter{Name: "VIEW"}, auth.Pageable{})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if page.TotalElementCount != 2 || page.PageSize != 10 || page.PageNumber != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	page, err = f.roles.FindAll(ctx, auth.RoleFilter{Statuses: []auth.RoleStatus{auth.RoleStatusPassive}}, auth.Pageable{Page: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(page.Content) != 1 || page.Content[0].Name != "old viewer" {
		t.Fatalf("unexpected content: %+v", page.Content)
	}

	if _, err := f.roles.FindAll(ctx, auth.RoleFilter{Statuses: []auth.RoleStatus{"BROKEN"}}, auth.Pageable{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	actives, err := f.roles.FindAllActives(ctx, "")
	if err != nil {
		t.Fatalf("FindAllActives: %v", err)
	}
	if len(actives) != 2 || actives[0].Name != "editor" {
		t.Fatalf("unexpected actives: %+v", actives)
	}
}
