// Package errs defines the error taxonomy shared by the engine and backends.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden marks actions the current session is not allowed to
	// perform (self-like, unauthenticated mutation). Never retried.
	ErrForbidden = errors.New("action forbidden")

	// ErrTransient marks network/backend failures on read, write or
	// upload. Mutations roll back locally; retry policy is the caller's.
	ErrTransient = errors.New("transient io failure")

	// ErrNotFound marks an entity that was deleted concurrently.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks rejected input (empty body, oversize text).
	ErrValidation = errors.New("validation failure")

	// ErrMutationPending is returned when a like/unlike attempt arrives
	// while another mutation for the same (post, viewer) pair is still
	// in flight.
	ErrMutationPending = errors.New("mutation already pending")
)

// Forbidden wraps ErrForbidden with context.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

// Transient wraps an underlying IO error so callers can errors.Is it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Validation wraps ErrValidation with context.
func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
