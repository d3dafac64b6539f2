// Package apperr defines the error kinds surfaced by the data-access layer.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports invalid user input. Key is a message key that
// the presentation layer localizes for Locale; it is never retried.
type ValidationError struct {
	Locale string
	Key    string
	Field  string // optional, the offending field
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s (field %s)", e.Key, e.Field)
	}
	return "validation failed: " + e.Key
}

// NewValidation builds a ValidationError for the given locale and message key.
func NewValidation(locale, key string) *ValidationError {
	return &ValidationError{Locale: locale, Key: key}
}

// NotFoundError reports a missing record, or one the requester cannot see.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	if e.Entity == "" {
		return "not found"
	}
	return e.Entity + " not found"
}

// NewNotFound builds a NotFoundError for entity.
func NewNotFound(entity string) *NotFoundError {
	return &NotFoundError{Entity: entity}
}

// ErrConflict is returned when a versioned aggregate was modified by
// another writer between load and save. Callers may reload and retry.
var ErrConflict = errors.New("concurrent modification, reload and retry")

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
