// Package apperr defines the error taxonomy shared by the services and
// the HTTP layer. Handlers translate these into status codes; services
// never import net/http.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a missing entity and an entity owned by a
	// different user. The two are deliberately indistinguishable so the
	// API never leaks existence of other users' data.
	ErrNotFound = errors.New("not found")

	// ErrOwnership signals that a mutation reached a service with an
	// entity the caller does not own. The route-level gate should make
	// this unreachable; it exists as a defense-in-depth contract check.
	ErrOwnership = errors.New("entity owned by another user")
)

// ValidationError reports a field-level input violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for the given field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AsValidation unwraps err into a ValidationError if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
