package auth

import "context"

type PermissionService struct {
	permissions PermissionStore
}

// NewPermissionService lists the permission catalog.
func NewPermissionService(permissions PermissionStore) *PermissionService {
	return &PermissionService{permissions: permissions}
}

// FindAll lists every permission for a super identity and only non-super ones otherwise.
func (s *PermissionService) FindAll(ctx context.Context) ([]Permission, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	if identity.IsSuperAdmin() {
		return s.permissions.FindAll(ctx)
	}
	return s.permissions.FindAllNonSuper(ctx)
}
