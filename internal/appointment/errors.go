package appointment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingField       = errors.New("missing required field")
	ErrInvalidFormat      = errors.New("invalid format")
	ErrConflict           = errors.New("doctor already has an appointment at this date and time")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// FieldError reports a validation failure on a named input field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func missingField(field string) error {
	return &FieldError{Field: field, Err: ErrMissingField}
}

func invalidField(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// unavailable wraps a backend failure so callers can match ErrStorageUnavailable
// while the driver error stays in the chain.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// isDomainError reports whether err already carries a category from the taxonomy.
func isDomainError(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStorageUnavailable)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
