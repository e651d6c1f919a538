package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a loan, KYC record, user or connection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write observed a status that changed
	// since it was read.
	ErrConflict = errors.New("concurrent modification")
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// NewValidationError returns a ValidationError with a single field error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// IllegalTransition is returned when a requested status change is not in the
// transition table. The entity is left untouched.
type IllegalTransition struct {
	Entity string // "loan" or "kyc"
	From   string
	To     string
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// Unauthorized is returned when an actor lacks the role an operation needs.
type Unauthorized struct {
	Actor  string
	Action string
}

func (e *Unauthorized) Error() string {
	return fmt.Sprintf("actor %q is not allowed to %s", e.Actor, e.Action)
}

// AuthError is returned when a presented token cannot be resolved to an
// identity. It is terminal for the connection attempt.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "authentication failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// DeliveryFailure records a failed delivery of one event to one connection.
// It is logged by the dispatcher and never returned to publishers.
type DeliveryFailure struct {
	ConnectionID string
	Event        string
	Channel      string
	Err          error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver %s on %s to %s: %v", e.Event, e.Channel, e.ConnectionID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }
