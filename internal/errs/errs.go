// Package errs defines the error taxonomy shared by the evaluation and submission components.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks malformed input. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks an unknown user, job, attempt or ticket.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned when a captcha ticket is resolved twice.
	ErrAlreadyResolved = errors.New("already resolved")
	// ErrConflict is returned when an operation would break the one-active-attempt-per-pair rule.
	ErrConflict = errors.New("conflict")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted description.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and identifier of the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Conflict wraps ErrConflict with a formatted description.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
