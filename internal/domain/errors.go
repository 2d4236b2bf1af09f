package domain

import (
	"errors"
	"fmt"
)

// Category errors. Every error surfaced by the engines matches exactly one of
// these through errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
)

var (
	ErrEventNotFound       = fmt.Errorf("event %w", ErrNotFound)
	ErrTierNotFound        = fmt.Errorf("tier %w", ErrNotFound)
	ErrTicketNotFound      = fmt.Errorf("ticket %w", ErrNotFound)
	ErrQuotaNotFound       = fmt.Errorf("quota %w", ErrNotFound)
	ErrAlreadyCheckedIn    = fmt.Errorf("ticket already checked in: %w", ErrInvalidState)
	ErrTicketNotValid      = fmt.Errorf("ticket not valid for entry: %w", ErrInvalidState)
	ErrNotCancellable      = fmt.Errorf("ticket not cancellable: %w", ErrInvalidState)
	ErrEventNotOnSale      = fmt.Errorf("event not on sale: %w", ErrInvalidState)
	ErrConcurrencyConflict = fmt.Errorf("concurrent update: %w", ErrInvalidState)
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
