/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; the API
  layer maps them to HTTP status codes in a single function.

ERROR CATEGORIES:
  1. Client errors - ValidationError, AuthError, InsufficientBalance,
     InvalidStateTransition, VoteLimitExceeded
  2. Lookup errors - NotFound
  3. Store errors - PersistenceError, ConcurrentModification

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var detail *generic.InsufficientBalanceError
      errors.As(err, &detail)
  }

SEE ALSO:
  - store.go: Uses ErrNotFound / ErrConcurrentModification
  - api/handlers.go: statusFor maps these to HTTP codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (bad email, bad date, ...).
	ErrValidation = errors.New("validation failed")

	// ErrAuth is returned for invalid credentials or a missing session.
	ErrAuth = errors.New("authentication required")

	// ErrForbidden is returned when an authenticated actor lacks permission.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a user, team or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance is returned when a redemption exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidStateTransition is returned when a request or vote set is
	// asked to move out of a state that does not allow it.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrVoteLimitExceeded is returned when a vote would exceed the required office days.
	ErrVoteLimitExceeded = errors.New("vote limit exceeded")

	// ErrPersistence wraps opaque store failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	TeamID     TeamID
	Available  Amount
	Requested  Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %v, requested %v",
		e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransitionError describes a rejected state change.
type InvalidTransitionError struct {
	Subject string // "request", "vote set"
	From    string
	Action  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in state %s", e.Action, e.Subject, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// VoteLimitError reports the configured limit that was hit.
type VoteLimitError struct {
	Limit int
}

func (e *VoteLimitError) Error() string {
	return fmt.Sprintf("vote limit exceeded: at most %d office days may be selected", e.Limit)
}

func (e *VoteLimitError) Unwrap() error { return ErrVoteLimitExceeded }

// PersistenceError wraps a store failure while keeping its cause inspectable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persist wraps err as a PersistenceError unless it is already classified.
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
