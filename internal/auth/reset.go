package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tessera.org/internal/ids"
)

// PasswordChangeWindow is how long a create-password or reset link stays usable.
const PasswordChangeWindow = 2 * time.Hour

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt limit
)

type PasswordForgotRequest struct {
	EmailAddress string `json:"emailAddress"`
}

type PasswordCreateRequest struct {
	Password       string `json:"password"`
	PasswordRepeat string `json:"passwordRepeat"`
}

func (r PasswordCreateRequest) validate() error {
	if len(r.Password) < minPasswordLength || len(r.Password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}
	if r.Password != r.PasswordRepeat {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	return nil
}

// PasswordService implements forgot-password, link validity and password creation.
type PasswordService struct {
	users  UserStore
	mailer passwordMailer
	now    func() time.Time
}

// NewPasswordService runs the forgot and create password flows.
func NewPasswordService(users UserStore, sender MailSender, params ParameterReader, now func() time.Time) *PasswordService {
	if now == nil {
		now = time.Now
	}
	return &PasswordService{users: users, mailer: passwordMailer{sender: sender, params: params}, now: now}
}

// ForgotPassword stamps a fresh password record and mails its link.
func (s *PasswordService) ForgotPassword(ctx context.Context, req PasswordForgotRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.EmailAddress))
	if email == "" {
		return fmt.Errorf("%w: emailAddress is required", ErrInvalidInput)
	}
	user, err := s.users.FindByEmailAddress(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrEmailAddressNotValid
		}
		return err
	}

	value := ""
	if user.Password != nil {
		value = user.Password.Value
	}
	if value == "" {
		temp, err := ids.RandomText(tempPasswordLength)
		if err != nil {
			return err
		}
		if value, err = HashPassword(temp); err != nil {
			return err
		}
	}
	now := s.now().UTC()
	user.Password = &Password{
		ID:        ids.New(),
		Value:     value,
		ForgotAt:  &now,
		CreatedAt: now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	s.mailer.sendCreatePassword(ctx, user)
	return nil
}

// CheckPasswordChangingValidity reports whether the link for passwordID may still be used.
func (s *PasswordService) CheckPasswordChangingValidity(ctx context.Context, passwordID string) error {
	_, err := s.userForChange(ctx, passwordID)
	return err
}

// CreatePassword sets a new password through a valid link. The link is
// consumed: the record is stamped as updated and its forgotAt cleared.
func (s *PasswordService) CreatePassword(ctx context.Context, passwordID string, req PasswordCreateRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	user, err := s.userForChange(ctx, passwordID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	user.Password.Value = hash
	user.Password.ForgotAt = nil
	user.Password.UpdatedAt = &now
	return s.users.Save(ctx, user)
}

func (s *PasswordService) userForChange(ctx context.Context, passwordID string) (*User, error) {
	passwordID = strings.TrimSpace(passwordID)
	if passwordID == "" {
		return nil, ErrUserPasswordDoesNotExist
	}
	user, err := s.users.FindByPasswordID(ctx, passwordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserPasswordDoesNotExist
		}
		return nil, err
	}
	if user.Password == nil || !passwordChangeable(user.Password, s.now()) {
		return nil, ErrUserPasswordCannotChanged
	}
	return user, nil
}

// passwordChangeable picks the anchor: createdAt for a never-touched record,
// forgotAt for a reset. A record updated without a reset is closed.
func passwordChangeable(p *Password, now time.Time) bool {
	var anchor time.Time
	switch {
	case p.ForgotAt == nil && p.UpdatedAt == nil:
		anchor = p.CreatedAt
	case p.ForgotAt == nil:
		return false
	default:
		anchor = *p.ForgotAt
	}
	return anchor.After(now.Add(-PasswordChangeWindow))
}
