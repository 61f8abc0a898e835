package auth

import (
	"sort"
	"time"
)

type UserStatus string

const (
	UserStatusActive      UserStatus = "ACTIVE"
	UserStatusPassive     UserStatus = "PASSIVE"
	UserStatusDeleted     UserStatus = "DELETED"
	UserStatusNotVerified UserStatus = "NOT_VERIFIED"
)

// Valid reports whether s is a known user status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusPassive, UserStatusDeleted, UserStatusNotVerified:
		return true
	}
	return false
}

type RoleStatus string

const (
	RoleStatusActive  RoleStatus = "ACTIVE"
	RoleStatusPassive RoleStatus = "PASSIVE"
	RoleStatusDeleted RoleStatus = "DELETED"
)

// Valid reports whether s is a known role status.
func (s RoleStatus) Valid() bool {
	switch s {
	case RoleStatusActive, RoleStatusPassive, RoleStatusDeleted:
		return true
	}
	return false
}

type PermissionCategory string

const (
	PermissionCategoryPage           PermissionCategory = "PAGE"
	PermissionCategorySuperAdmin     PermissionCategory = "SUPER_ADMIN"
	PermissionCategoryUserManagement PermissionCategory = "USER_MANAGEMENT"
	PermissionCategoryRoleManagement PermissionCategory = "ROLE_MANAGEMENT"
)

// Permission is immutable reference data seeded by migrations.
type Permission struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Category PermissionCategory `json:"category"`
	IsSuper  bool               `json:"isSuper"`
}

type Role struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        RoleStatus   `json:"status"`
	InstitutionID string       `json:"institutionId,omitempty"`
	Permissions   []Permission `json:"permissions,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     *time.Time   `json:"updatedAt,omitempty"`
}

func (r *Role) IsActive() bool  { return r.Status == RoleStatusActive }
func (r *Role) IsPassive() bool { return r.Status == RoleStatusPassive }
func (r *Role) IsDeleted() bool { return r.Status == RoleStatusDeleted }

// Password is the user's credential record. Value is always a bcrypt hash.
type Password struct {
	ID        string     `json:"-"`
	Value     string     `json:"-"`
	ForgotAt  *time.Time `json:"-"`
	CreatedAt time.Time  `json:"-"`
	UpdatedAt *time.Time `json:"-"`
}

type LoginAttempt struct {
	ID          string     `json:"-"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type User struct {
	ID            string        `json:"id"`
	EmailAddress  string        `json:"emailAddress"`
	FullName      string        `json:"fullName"`
	Status        UserStatus    `json:"status"`
	InstitutionID string        `json:"institutionId,omitempty"`
	Password      *Password     `json:"-"`
	LoginAttempt  *LoginAttempt `json:"loginAttempt,omitempty"`
	Roles         []Role        `json:"roles,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     *time.Time    `json:"updatedAt,omitempty"`
}

func (u *User) IsActive() bool  { return u.Status == UserStatusActive }
func (u *User) IsPassive() bool { return u.Status == UserStatusPassive }
func (u *User) IsDeleted() bool { return u.Status == UserStatusDeleted }

// PermissionNames returns the sorted, de-duplicated union of permission names of
// every assigned role that is not deleted.
func (u *User) PermissionNames() []string {
	set := make(map[string]struct{})
	for _, role := range u.Roles {
		if role.IsDeleted() {
			continue
		}
		for _, p := range role.Permissions {
			set[p.Name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RoleIDs returns the ids of the assigned roles.
func (u *User) RoleIDs() []string {
	out := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		out = append(out, r.ID)
	}
	return out
}

// InvalidToken is a ledger record: a jti that must be rejected until swept.
type InvalidToken struct {
	ID        int64
	TokenID   string
	CreatedAt time.Time
}

// Pageable is the minimal page/size contract of list queries. Page is 1-based.
type Pageable struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Normalize clamps page and size to sane bounds.
func (p Pageable) Normalize() Pageable {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Pageable) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

type Page[T any] struct {
	Content           []T   `json:"content"`
	PageNumber        int   `json:"pageNumber"`
	PageSize          int   `json:"pageSize"`
	TotalPageCount    int   `json:"totalPageCount"`
	TotalElementCount int64 `json:"totalElementCount"`
}

// NewPage assembles a page from the slice already cut for p and the total count.
func NewPage[T any](content []T, p Pageable, total int64) Page[T] {
	p = p.Normalize()
	if content == nil {
		content = []T{}
	}
	pages := int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	return Page[T]{
		Content:           content,
		PageNumber:        p.Page,
		PageSize:          p.PageSize,
		TotalPageCount:    pages,
		TotalElementCount: total,
	}
}

type UserFilter struct {
	FullName      string       `json:"fullName,omitempty"`
	EmailAddress  string       `json:"emailAddress,omitempty"`
	Statuses      []UserStatus `json:"statuses,omitempty"`
	InstitutionID string       `json:"institutionId,omitempty"`
}

type RoleFilter struct {
	Name          string       `json:"name,omitempty"`
	Statuses      []RoleStatus `json:"statuses,omitempty"`
	InstitutionID string       `json:"institutionId,omitempty"`
}
