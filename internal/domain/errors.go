package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderAlreadyExists = errors.New("order already exists")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnsupportedCountry = errors.New("unsupported country")
	ErrMethodNotAllowed   = errors.New("payment method not available for country")
	ErrNoAdapter          = errors.New("no adapter for payment method")
	ErrAlreadySubmitted   = errors.New("order already submitted")
)

// ValidationError is a local input problem caught before any provider call.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InvalidField is read by the error classifier.
func (e *ValidationError) InvalidField() string {
	return e.Field
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
