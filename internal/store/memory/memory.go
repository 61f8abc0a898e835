// Package memory keeps every store in process. It backs local runs without a
// database and the service-level tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"tessera.org/internal/auth"
	"tessera.org/internal/parameter"
)

type userRecord struct {
	user    auth.User
	roleIDs []string
}

type roleRecord struct {
	role          auth.Role
	permissionIDs []string
}

// Store holds all entities behind one lock; the typed views share it.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*userRecord
	roles       map[string]*roleRecord
	permissions map[string]auth.Permission
	invalid     map[string]auth.InvalidToken
	params      map[string]parameter.Parameter
	nextTokenID int64
}

// New returns an empty store seeded with the builtin permission catalog.
func New() *Store {
	s := &Store{
		users:       make(map[string]*userRecord),
		roles:       make(map[string]*roleRecord),
		permissions: make(map[string]auth.Permission),
		invalid:     make(map[string]auth.InvalidToken),
		params:      make(map[string]parameter.Parameter),
	}
	for _, p := range auth.BuiltinPermissions {
		s.permissions[p.ID] = p
	}
	return s
}

func (s *Store) Users() *UserStore                 { return &UserStore{s} }
func (s *Store) Roles() *RoleStore                 { return &RoleStore{s} }
func (s *Store) Permissions() *PermissionStore     { return &PermissionStore{s} }
func (s *Store) InvalidTokens() *InvalidTokenStore { return &InvalidTokenStore{s} }
func (s *Store) Parameters() *ParameterStore       { return &ParameterStore{s} }

// PutParameter stores or replaces a parameter.
func (s *Store) PutParameter(p parameter.Parameter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.params[p.Name] = p
}

var (
	_ auth.UserStore         = (*UserStore)(nil)
	_ auth.RoleStore         = (*RoleStore)(nil)
	_ auth.PermissionStore   = (*PermissionStore)(nil)
	_ auth.InvalidTokenStore = (*InvalidTokenStore)(nil)
	_ parameter.Store        = (*ParameterStore)(nil)
)

// hydrateRole must be called with s.mu held.
func (s *Store) hydrateRole(rec *roleRecord) auth.Role {
	role := rec.role
	role.Permissions = make([]auth.Permission, 0, len(rec.permissionIDs))
	for _, id := range rec.permissionIDs {
		if p, ok := s.permissions[id]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	return role
}

// hydrateUser must be called with s.mu held.
func (s *Store) hydrateUser(rec *userRecord) *auth.User {
	u := rec.user
	if u.Password != nil {
		pw := *u.Password
		u.Password = &pw
	}
	if u.LoginAttempt != nil {
		la := *u.LoginAttempt
		u.LoginAttempt = &la
	}
	u.Roles = make([]auth.Role, 0, len(rec.roleIDs))
	for _, id := range rec.roleIDs {
		if r, ok := s.roles[id]; ok {
			u.Roles = append(u.Roles, s.hydrateRole(r))
		}
	}
	return &u
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func paginate[T any](items []T, page auth.Pageable) auth.Page[T] {
	page = page.Normalize()
	total := int64(len(items))
	start := page.Offset()
	if start > len(items) {
		start = len(items)
	}
	end := start + page.PageSize
	if end > len(items) {
		end = len(items)
	}
	return auth.NewPage(items[start:end], page, total)
}

type UserStore struct{ s *Store }

func (v *UserStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	rec, ok := v.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return v.s.hydrateUser(rec), nil
}

func (v *UserStore) FindByEmailAddress(_ context.Context, email string) (*auth.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, rec := range v.s.users {
		if strings.EqualFold(rec.user.EmailAddress, email) {
			return v.s.hydrateUser(rec), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (v *UserStore) FindByPasswordID(_ context.Context, passwordID string) (*auth.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, rec := range v.s.users {
		if rec.user.Password != nil && rec.user.Password.ID == passwordID {
			return v.s.hydrateUser(rec), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (v *UserStore) ExistsByEmailAddress(ctx context.Context, email string) (bool, error) {
	_, err := v.FindByEmailAddress(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (v *UserStore) FindAll(_ context.Context, filter auth.UserFilter, page auth.Pageable) (auth.Page[auth.User], error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []auth.User
	for _, rec := range v.s.users {
		u := rec.user
		if filter.FullName != "" && !containsFold(u.FullName, filter.FullName) {
			continue
		}
		if filter.EmailAddress != "" && !containsFold(u.EmailAddress, filter.EmailAddress) {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(u.Status, filter.Statuses) {
			continue
		}
		if filter.InstitutionID != "" && u.InstitutionID != filter.InstitutionID {
			continue
		}
		out = append(out, *v.s.hydrateUser(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (v *UserStore) Save(_ context.Context, user *auth.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for id, rec := range v.s.users {
		if id != user.ID && strings.EqualFold(rec.user.EmailAddress, user.EmailAddress) {
			return auth.ErrConflict
		}
	}
	stored := *user
	stored.Roles = nil
	if user.Password != nil {
		pw := *user.Password
		stored.Password = &pw
	}
	if user.LoginAttempt != nil {
		la := *user.LoginAttempt
		stored.LoginAttempt = &la
	}
	v.s.users[user.ID] = &userRecord{user: stored, roleIDs: user.RoleIDs()}
	return nil
}

func statusIn[S comparable](s S, set []S) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

type RoleStore struct{ s *Store }

func (v *RoleStore) FindByID(_ context.Context, id string) (*auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	rec, ok := v.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	role := v.s.hydrateRole(rec)
	return &role, nil
}

func (v *RoleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, rec := range v.s.roles {
		if rec.role.Name == name {
			role := v.s.hydrateRole(rec)
			return &role, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (v *RoleStore) FindAllByIDs(_ context.Context, ids []string) ([]auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []auth.Role
	for _, id := range ids {
		if rec, ok := v.s.roles[id]; ok {
			out = append(out, v.s.hydrateRole(rec))
		}
	}
	return out, nil
}

func (v *RoleStore) FindAllActives(_ context.Context, institutionID string) ([]auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []auth.Role
	for _, rec := range v.s.roles {
		if !rec.role.IsActive() {
			continue
		}
		if institutionID != "" && rec.role.InstitutionID != institutionID {
			continue
		}
		out = append(out, v.s.hydrateRole(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *RoleStore) FindAll(_ context.Context, filter auth.RoleFilter, page auth.Pageable) (auth.Page[auth.Role], error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []auth.Role
	for _, rec := range v.s.roles {
		r := rec.role
		if filter.Name != "" && !containsFold(r.Name, filter.Name) {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(r.Status, filter.Statuses) {
			continue
		}
		if filter.InstitutionID != "" && r.InstitutionID != filter.InstitutionID {
			continue
		}
		out = append(out, v.s.hydrateRole(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (v *RoleStore) IsRoleUsing(_ context.Context, id string) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, rec := range v.s.users {
		for _, rid := range rec.roleIDs {
			if rid == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (v *RoleStore) Save(_ context.Context, role *auth.Role) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for id, rec := range v.s.roles {
		if id != role.ID && rec.role.Name == role.Name {
			return auth.ErrConflict
		}
	}
	stored := *role
	stored.Permissions = nil
	permIDs := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		permIDs = append(permIDs, p.ID)
	}
	v.s.roles[role.ID] = &roleRecord{role: stored, permissionIDs: permIDs}
	return nil
}

type PermissionStore struct{ s *Store }

func (v *PermissionStore) FindAll(_ context.Context) ([]auth.Permission, error) {
	return v.list(func(auth.Permission) bool { return true }), nil
}

func (v *PermissionStore) FindAllNonSuper(_ context.Context) ([]auth.Permission, error) {
	return v.list(func(p auth.Permission) bool { return !p.IsSuper }), nil
}

func (v *PermissionStore) FindAllByIDs(_ context.Context, ids []string) ([]auth.Permission, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []auth.Permission
	for _, id := range ids {
		if p, ok := v.s.permissions[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (v *PermissionStore) list(keep func(auth.Permission) bool) []auth.Permission {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(v.s.permissions))
	for _, p := range v.s.permissions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type InvalidTokenStore struct{ s *Store }

func (v *InvalidTokenStore) FindByTokenID(_ context.Context, tokenID string) (*auth.InvalidToken, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	tok, ok := v.s.invalid[tokenID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &tok, nil
}

func (v *InvalidTokenStore) SaveAll(_ context.Context, tokens []auth.InvalidToken) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, t := range tokens {
		if _, ok := v.s.invalid[t.TokenID]; ok {
			continue
		}
		v.s.nextTokenID++
		t.ID = v.s.nextTokenID
		v.s.invalid[t.TokenID] = t
	}
	return nil
}

func (v *InvalidTokenStore) DeleteAllCreatedBefore(_ context.Context, threshold time.Time) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var n int64
	for id, t := range v.s.invalid {
		if t.CreatedAt.Before(threshold) {
			delete(v.s.invalid, id)
			n++
		}
	}
	return n, nil
}

type ParameterStore struct{ s *Store }

func (v *ParameterStore) FindByName(_ context.Context, name string) (parameter.Parameter, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.params[name]
	if !ok {
		return parameter.Parameter{}, parameter.ErrNotExist
	}
	return p, nil
}

func (v *ParameterStore) FindAllByPrefix(_ context.Context, prefix string) ([]parameter.Parameter, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []parameter.Parameter
	for name, p := range v.s.params {
		if strings.HasPrefix(name, prefix) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
