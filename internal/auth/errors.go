package auth

import "errors"

// Error kinds. Every domain error wraps exactly one of these so the transport
// layer can pick a status code with errors.Is.
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrAccessDenied = errors.New("auth: access denied")
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Authentication failures.
var (
	ErrTokenNotValid             = newError(ErrUnauthorized, "token is not valid")
	ErrTokenAlreadyInvalidated   = newError(ErrUnauthorized, "token is already invalidated")
	ErrEmailAddressNotValid      = newError(ErrUnauthorized, "email address is not valid")
	ErrPasswordNotValid          = newError(ErrUnauthorized, "password is not valid")
	ErrUserNotActive             = newError(ErrUnauthorized, "user is not active")
	ErrUserDoesNotAccessPage     = newError(ErrUnauthorized, "user does not have access to the page")
	ErrUserIDNotValid            = newError(ErrUnauthorized, "user id is not valid")
	ErrUserPasswordDoesNotExist  = newError(ErrUnauthorized, "user password does not exist")
	ErrUserPasswordCannotChanged = newError(ErrUnauthorized, "user password cannot be changed")
)

// Lookup failures.
var (
	ErrUserNotExistByID   = newError(ErrNotFound, "user does not exist")
	ErrRoleNotExistByID   = newError(ErrNotFound, "role does not exist")
	ErrPermissionNotExist = newError(ErrNotFound, "permissions do not exist")
	ErrRolesNotExist      = newError(ErrNotFound, "roles do not exist")
	ErrInvalidRoleStatus  = newError(ErrNotFound, "role status is not valid")
	ErrUserNotPassive     = newError(ErrNotFound, "user is not passive")
)

// State conflicts.
var (
	ErrUserAlreadyExistsByEmailAddress = newError(ErrConflict, "user already exists with email address")
	ErrRoleAlreadyExistsByName         = newError(ErrConflict, "role already exists with name")
	ErrRoleAssignedToUser              = newError(ErrConflict, "role is assigned to one or more users")
	ErrRoleAlreadyDeleted              = newError(ErrConflict, "role is already deleted")
	ErrUserAlreadyDeleted              = newError(ErrConflict, "user is already deleted")
	ErrUserIsNotActiveOrPassive        = newError(ErrConflict, "user is not active or passive")
)

// ErrUserNotSuperAdmin is returned when a non-super identity grants super permissions.
var ErrUserNotSuperAdmin = newError(ErrInvalidInput, "user is not super admin")
