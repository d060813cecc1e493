package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrNoMatch              = errors.New("no active approval rule covers the transaction")
	ErrInvalidLevel         = errors.New("level is not part of the approval chain")
	ErrUnauthorizedApprover = errors.New("approver is not authorized for this level")
	ErrAlreadyDecided       = errors.New("already decided")
	ErrStorageTimeout       = errors.New("storage operation timed out")
)

// ValidationError names the field whose invariant was violated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets callers match any ValidationError against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
