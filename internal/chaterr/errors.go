// Package chaterr defines the error taxonomy shared by the feed, presence and
// account layers. Transport code maps these onto status codes.
package chaterr

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Callers retry on their own cadence.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAuthRejected is returned when a credential does not match.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrAccountExists is returned when registering a taken username.
	ErrAccountExists = errors.New("account already exists")

	// ErrNotFound is returned by repositories for a missing record.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a missing or empty required field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Required returns a *ValidationError for field.
func Required(field string) error {
	return &ValidationError{Field: field}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Unavailable wraps cause so that errors.Is(err, ErrStoreUnavailable) holds
// while keeping the underlying error in the chain.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, cause)
}
