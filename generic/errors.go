/*
errors.go - Centralized error types for the fulfillment engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages return these; the API maps them to status codes.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, never retried (400)
  2. Conflict errors   - Valid input that breaks a state rule (409)
  3. Not-found errors  - Unknown order, fulfiller, item, wallet (404)
  4. Store errors      - Persistence failures, possibly retryable (503)

Every structured error unwraps to exactly one category sentinel, so
callers can branch with errors.Is without type switches:

    if errors.Is(err, generic.ErrConflict) {
        // slot already taken, order already delivered, ...
    }

Store-level constraint violations (ErrDuplicateIdempotencyKey,
ErrDuplicateCommission, ErrConcurrentModification) are conflicts too:
IsConflict reports true for them.

AMBIGUITY:
  A StoreError with Ambiguous set means the write may or may not have
  been committed (e.g. the commit call itself failed). Retrying is only
  safe for operations protected by a dedup key.

SEE ALSO:
  - store.go: Which store methods return which sentinels
  - api/handlers.go: HTTP status mapping
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
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrStore      = errors.New("store failure")

	// ErrDuplicateIdempotencyKey is returned when a wallet entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateCommission is returned when a commission for the same
	// (order, referrer) pair already exists.
	ErrDuplicateCommission = errors.New("duplicate referral commission")

	// ErrConcurrentModification is returned when a version or status
	// compare-and-swap finds the row changed underneath.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInsufficientBalance is returned when a settlement exceeds the pending amount.
	ErrInsufficientBalance = errors.New("insufficient pending balance")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a state-rule violation on a resource, e.g.
// "order:o1/cook" when the cook slot is already taken.
type ConflictError struct {
	Resource string
	Reason   string
	// Cause optionally names a more specific sentinel (ErrDuplicateCommission, ...).
	Cause error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConflict, e.Cause}
	}
	return []error{ErrConflict}
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for building a NotFoundError from any ID type.
func NotFound[T ~string](kind string, id T) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: string(id)}
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op        string
	Err       error
	Ambiguous bool
}

func (e *StoreError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("store %s (outcome unknown): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// InsufficientBalanceError provides details about a settlement shortage.
type InsufficientBalanceError struct {
	StaffID   FulfillerID
	Available Money
	Requested Money
	Shortfall Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient pending balance for %s: available %s, requested %s, shortfall %s",
		e.StaffID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() []error {
	return []error{ErrConflict, ErrInsufficientBalance}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsAmbiguous reports whether a write may have committed despite the error.
func IsAmbiguous(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Ambiguous
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidRange)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict covers both ConflictError and the store constraint sentinels.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateCommission) ||
		errors.Is(err, ErrConcurrentModification)
}
