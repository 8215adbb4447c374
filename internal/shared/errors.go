package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across domain packages. Services wrap these with
// context via %w; the HTTP layer maps them to problem responses.
var (
	// ErrNotFound indicates the entity does not exist or belongs to another
	// organization. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a business-rule violation.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates a role or tenant authorization failure.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Conflictf wraps ErrConflict with a caller-facing explanation.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// Validationf wraps ErrValidation with the offending field or rule.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
