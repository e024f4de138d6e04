package store

import (
	"errors"
	"fmt"

	"github.com/tanvir/tenantbook/internal/authz"
)

var (
	// ErrNotFound is returned for genuinely absent ids and for cross-tenant
	// ids alike; the primary key embeds the tenant, so a foreign id is a
	// guaranteed miss and existence never leaks across tenants.
	ErrNotFound = errors.New("appointment not found")

	// ErrConflict means the generated id already existed. Create retries
	// internally with a fresh id before surfacing this.
	ErrConflict = errors.New("appointment id conflict")

	// ErrUnavailable wraps transient backend failures. Callers may retry;
	// the store itself never does.
	ErrUnavailable = errors.New("storage unavailable")
)

// ValidationError marks malformed or logically inconsistent input. Never
// retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAccessDenied(err error) bool {
	return errors.Is(err, authz.ErrAccessDenied)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
