package invitations

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrExpired           = errors.New("invitation expired")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidExpiration = errors.New("invalid expiration")
	ErrValidation        = errors.New("validation failed")
	ErrCorruptRecord     = errors.New("corrupt invitation record")
)

// ValidationError describes malformed create or resend input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// transitionError wraps ErrInvalidTransition with the observed status.
func transitionError(op string, from Status) error {
	return fmt.Errorf("%w: cannot %s invitation in status %s", ErrInvalidTransition, op, from)
}

func corruptRecord(rec Record, reason string) error {
	return fmt.Errorf("%w %s: %s", ErrCorruptRecord, rec.ID, reason)
}
