package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrPositionClosed  = errors.New("position is closed")
	ErrLockHeld        = errors.New("lock already held")
	ErrVersionConflict = errors.New("position version conflict")
	ErrContextDone     = errors.New("context cancelled")
)

// ValidationError is a caller-fault rejection of an exit or entry request.
// Nothing has been mutated when one is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConsistencyFault signals corrupted aggregate state, such as the lot
// remaining sum disagreeing with the position's remaining quantity. It is
// fatal for the operation and must never be silently repaired.
type ConsistencyFault struct {
	PositionID string
	Reason     string
}

func (e *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault on position %s: %s", e.PositionID, e.Reason)
}

// IsConsistencyFault reports whether err is (or wraps) a ConsistencyFault.
func IsConsistencyFault(err error) bool {
	var cf *ConsistencyFault
	return errors.As(err, &cf)
}
