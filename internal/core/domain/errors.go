package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Specific errors wrap one of these so callers can branch with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrProtectedResource = errors.New("protected resource")
	ErrInUse             = errors.New("resource in use")
	ErrDegradedService   = errors.New("degraded service")
	ErrRateLimited       = errors.New("rate limited")
	ErrForbidden         = errors.New("forbidden")
)

// kindError carries a message and the kind it belongs to.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

var (
	// ErrSystemRoleProtected is returned when deleting or renaming a system role.
	ErrSystemRoleProtected = newKindError(ErrProtectedResource, "system role is protected")
	// ErrSystemPermissionProtected is returned when deleting a system permission.
	ErrSystemPermissionProtected = newKindError(ErrProtectedResource, "system permission is protected")
	// ErrRoleInUse is returned when deleting a role that still has current users.
	ErrRoleInUse = newKindError(ErrInUse, "role is assigned to users")
	// ErrRoleExists indicates a role with the same name already exists in the guard.
	ErrRoleExists = newKindError(ErrConflict, "role already exists")
	// ErrPermissionExists indicates a permission with the same name already exists in the guard.
	ErrPermissionExists = newKindError(ErrConflict, "permission already exists")
	// ErrRoleNotFound indicates the role does not exist.
	ErrRoleNotFound = newKindError(ErrNotFound, "role not found")
	// ErrPermissionNotFound indicates the permission does not exist.
	ErrPermissionNotFound = newKindError(ErrNotFound, "permission not found")
	// ErrInvalidLevel indicates a role level outside the configured bounds.
	ErrInvalidLevel = newKindError(ErrValidation, "role level out of range")
	// ErrInvalidName indicates a malformed role or permission name.
	ErrInvalidName = newKindError(ErrValidation, "invalid name")
	// ErrOTPNotFound indicates no pending code exists for the identifier.
	ErrOTPNotFound = newKindError(ErrNotFound, "otp not found")
	// ErrOTPExpired indicates the code is past its expiry.
	ErrOTPExpired = newKindError(ErrValidation, "otp expired")
	// ErrOTPAlreadyUsed indicates the code was already consumed.
	ErrOTPAlreadyUsed = newKindError(ErrConflict, "otp already used")
	// ErrOTPAttemptsExceeded indicates the attempt budget is exhausted.
	ErrOTPAttemptsExceeded = newKindError(ErrRateLimited, "otp attempts exceeded")
	// ErrOTPInvalid indicates the submitted code does not match.
	ErrOTPInvalid = newKindError(ErrValidation, "otp invalid")
	// ErrInsufficientLevel indicates the actor's highest role does not outrank the target role.
	ErrInsufficientLevel = newKindError(ErrForbidden, "actor level does not permit managing this role")
)

// ValidationError wraps ErrValidation with a field-specific message.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RateLimitExceededError describes a throttled operation.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// Unwrap exposes the rate-limit kind.
func (e *RateLimitExceededError) Unwrap() error { return ErrRateLimited }

// DegradedServiceError describes an external dependency that could not be reached.
type DegradedServiceError struct {
	Service string
	Err     error
}

func (e *DegradedServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s degraded", e.Service)
	}
	return fmt.Sprintf("%s degraded: %v", e.Service, e.Err)
}

// Unwrap exposes both the degraded kind and the underlying cause.
func (e *DegradedServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDegradedService}
	}
	return []error{ErrDegradedService, e.Err}
}
