package auth

import (
	"fmt"
	"strings"
)

// Permission names used by the HTTP guards and seeded by migrations.
const (
	PermSuper = "super"

	PermInstitutionPage = "institution:page"
	PermLandingPage     = "landing:page"

	PermRoleList   = "role:list"
	PermRoleDetail = "role:detail"
	PermRoleCreate = "role:create"
	PermRoleUpdate = "role:update"
	PermRoleDelete = "role:delete"

	PermUserList   = "user:list"
	PermUserDetail = "user:detail"
	PermUserCreate = "user:create"
	PermUserUpdate = "user:update"
	PermUserDelete = "user:delete"
)

// BuiltinPermissions is the seeded catalog. IDs are stable across environments.
var BuiltinPermissions = []Permission{
	{ID: "01J00000000000000000000001", Name: PermSuper, Category: PermissionCategorySuperAdmin, IsSuper: true},
	{ID: "01J00000000000000000000002", Name: PermInstitutionPage, Category: PermissionCategoryPage},
	{ID: "01J00000000000000000000003", Name: PermLandingPage, Category: PermissionCategoryPage},
	{ID: "01J00000000000000000000004", Name: PermRoleList, Category: PermissionCategoryRoleManagement},
	{ID: "01J00000000000000000000005", Name: PermRoleDetail, Category: PermissionCategoryRoleManagement},
	{ID: "01J00000000000000000000006", Name: PermRoleCreate, Category: PermissionCategoryRoleManagement},
	{ID: "01J00000000000000000000007", Name: PermRoleUpdate, Category: PermissionCategoryRoleManagement},
	{ID: "01J00000000000000000000008", Name: PermRoleDelete, Category: PermissionCategoryRoleManagement},
	{ID: "01J00000000000000000000009", Name: PermUserList, Category: PermissionCategoryUserManagement},
	{ID: "01J00000000000000000000010", Name: PermUserDetail, Category: PermissionCategoryUserManagement},
	{ID: "01J00000000000000000000011", Name: PermUserCreate, Category: PermissionCategoryUserManagement},
	{ID: "01J00000000000000000000012", Name: PermUserUpdate, Category: PermissionCategoryUserManagement},
	{ID: "01J00000000000000000000013", Name: PermUserDelete, Category: PermissionCategoryUserManagement},
}

// SourcePage is the front-end surface a login originates from.
type SourcePage string

const (
	SourcePageInstitution SourcePage = "INSTITUTION"
	SourcePageLanding     SourcePage = "LANDING"
)

var sourcePagePermissions = map[SourcePage]string{
	SourcePageInstitution: PermInstitutionPage,
	SourcePageLanding:     PermLandingPage,
}

// Permission returns the page permission a user needs to log in from the page.
// An empty page defaults to the institution panel.
func (p SourcePage) Permission() (string, error) {
	if strings.TrimSpace(string(p)) == "" {
		p = SourcePageInstitution
	}
	perm, ok := sourcePagePermissions[SourcePage(strings.ToUpper(string(p)))]
	if !ok {
		return "", fmt.Errorf("%w: unknown source page %q", ErrInvalidInput, p)
	}
	return perm, nil
}
