package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"tessera.org/internal/ids"
)

const (
	tempPasswordLength = 15
	maxFullNameLength  = 255
)

type UserCreateRequest struct {
	EmailAddress  string   `json:"emailAddress"`
	FullName      string   `json:"fullName"`
	RoleIDs       []string `json:"roleIds"`
	InstitutionID string   `json:"institutionId,omitempty"`
}

type UserUpdateRequest struct {
	EmailAddress string   `json:"emailAddress"`
	FullName     string   `json:"fullName"`
	RoleIDs      []string `json:"roleIds"`
}

func validateUserInput(email, fullName string, roleIDs []string) (string, string, []string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return "", "", nil, fmt.Errorf("%w: emailAddress is not a valid address", ErrInvalidInput)
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" || len(fullName) > maxFullNameLength {
		return "", "", nil, fmt.Errorf("%w: fullName is required", ErrInvalidInput)
	}
	roleIDs = uniqueIDs(roleIDs)
	if len(roleIDs) == 0 {
		return "", "", nil, fmt.Errorf("%w: roleIds must not be empty", ErrInvalidInput)
	}
	return email, fullName, roleIDs, nil
}

// UserService drives the user lifecycle: ACTIVE <-> PASSIVE, DELETED terminal.
type UserService struct {
	users  UserStore
	roles  RoleStore
	mailer passwordMailer
	now    func() time.Time
}

// NewUserService manages user lifecycle and sends create-password mails through sender.
func NewUserService(users UserStore, roles RoleStore, sender MailSender, params ParameterReader, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{
		users:  users,
		roles:  roles,
		mailer: passwordMailer{sender: sender, params: params},
		now:    now,
	}
}

func (s *UserService) FindAll(ctx context.Context, filter UserFilter, page Pageable) (Page[User], error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return Page[User]{}, fmt.Errorf("%w: unknown user status %q", ErrInvalidInput, st)
		}
	}
	return s.users.FindAll(ctx, filter, page.Normalize())
}

func (s *UserService) FindByID(ctx context.Context, id string) (*User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: userId %s", ErrUserNotExistByID, id)
		}
		return nil, err
	}
	return user, nil
}

// Create stores an ACTIVE user with a throwaway password and mails the
// create-password link after the user is persisted.
func (s *UserService) Create(ctx context.Context, req UserCreateRequest) (*User, error) {
	email, fullName, roleIDs, err := validateUserInput(req.EmailAddress, req.FullName, req.RoleIDs)
	if err != nil {
		return nil, err
	}
	exists, err := s.users.ExistsByEmailAddress(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: emailAddress %s", ErrUserAlreadyExistsByEmailAddress, email)
	}
	roles, err := s.resolveRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	temp, err := ids.RandomText(tempPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(temp)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:            ids.New(),
		EmailAddress:  email,
		FullName:      fullName,
		Status:        UserStatusActive,
		InstitutionID: strings.TrimSpace(req.InstitutionID),
		Roles:         roles,
		Password: &Password{
			ID:        ids.New(),
			Value:     hash,
			CreatedAt: now,
		},
		CreatedAt: now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	s.mailer.sendCreatePassword(ctx, user)
	return user, nil
}

// Update changes name, email and roles of an ACTIVE or PASSIVE user.
func (s *UserService) Update(ctx context.Context, id string, req UserUpdateRequest) (*User, error) {
	email, fullName, roleIDs, err := validateUserInput(req.EmailAddress, req.FullName, req.RoleIDs)
	if err != nil {
		return nil, err
	}
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() && !user.IsPassive() {
		return nil, fmt.Errorf("%w: userId %s", ErrUserIsNotActiveOrPassive, user.ID)
	}
	if email != user.EmailAddress {
		exists, err := s.users.ExistsByEmailAddress(ctx, email)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: emailAddress %s", ErrUserAlreadyExistsByEmailAddress, email)
		}
	}
	if !sameIDSet(user.RoleIDs(), roleIDs) {
		roles, err := s.resolveRoles(ctx, roleIDs)
		if err != nil {
			return nil, err
		}
		user.Roles = roles
	}
	now := s.now().UTC()
	user.EmailAddress = email
	user.FullName = fullName
	user.UpdatedAt = &now
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) Activate(ctx context.Context, id string) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsPassive() {
		return fmt.Errorf("%w: userId %s", ErrUserNotPassive, user.ID)
	}
	return s.transition(ctx, user, UserStatusActive)
}

func (s *UserService) Passivate(ctx context.Context, id string) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsActive() {
		return fmt.Errorf("%w: userId %s", ErrUserNotActive, user.ID)
	}
	return s.transition(ctx, user, UserStatusPassive)
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if user.IsDeleted() {
		return fmt.Errorf("%w: userId %s", ErrUserAlreadyDeleted, user.ID)
	}
	return s.transition(ctx, user, UserStatusDeleted)
}

func (s *UserService) transition(ctx context.Context, user *User, to UserStatus) error {
	now := s.now().UTC()
	user.Status = to
	user.UpdatedAt = &now
	return s.users.Save(ctx, user)
}

// resolveRoles loads roleIDs and requires every one to be an ACTIVE role.
func (s *UserService) resolveRoles(ctx context.Context, roleIDs []string) ([]Role, error) {
	found, err := s.roles.FindAllByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	active := make([]Role, 0, len(found))
	activeIDs := make([]string, 0, len(found))
	for _, r := range found {
		if r.IsActive() {
			active = append(active, r)
			activeIDs = append(activeIDs, r.ID)
		}
	}
	if len(active) != len(roleIDs) {
		return nil, fmt.Errorf("%w: roleIds %v", ErrRolesNotExist, missingIDs(roleIDs, activeIDs))
	}
	return active, nil
}

func sameIDSet(a, b []string) bool {
	a, b = uniqueIDs(a), uniqueIDs(b)
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}
