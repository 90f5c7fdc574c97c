// Package domainerr defines the error kinds shared by services and adapters.
// Wrap one of these with fmt.Errorf("%w: ...") and test with errors.Is.
package domainerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrValidation            = errors.New("validation failed")
	ErrForbidden             = errors.New("forbidden")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrPersistence           = errors.New("persistence failure")

	// ErrDuplicateReceipt is also a validation failure
	ErrDuplicateReceipt = fmt.Errorf("%w: duplicate receipt", ErrValidation)
)

// NotFound builds an ErrNotFound for an entity
func NotFound(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

// InvalidState builds an ErrInvalidState with a message
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Validation builds an ErrValidation with a message
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Forbidden builds an ErrForbidden with a message
func Forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Rejection is a validation failure that carries the screening reasons
// so the caller can show them to the submitter.
type Rejection struct {
	Message string
	Reasons []string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Unwrap lets errors.Is match ErrValidation
func (r *Rejection) Unwrap() error {
	return ErrValidation
}
