/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All engine error kinds in one place. The HTTP layer maps these to status
  codes; callers branch with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - rejected before touching the store
  2. Balance errors - spend exceeds what the user holds
  3. Concurrency errors - optimistic conflict during apply (retryable)
  4. Integrity errors - internal invariant violated (never retried)

Store-level failures (connectivity, constraint violations) are NOT wrapped in
these kinds; they propagate unchanged as generic storage failures.

SEE ALSO:
  - allocator.go, mutator.go, service.go: Producers of these errors
  - api/handlers.go: Status-code mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for a non-positive spend amount or earn
	// points value. Rejected before any store access.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a spend exceeds the user's
	// total balance. Rejected before any mutation.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when the compare-and-swap apply
	// detects that an entry changed since the plan was computed. The whole
	// spend is re-planned and retried; only exhausted retries surface this.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLedgerInconsistency is returned when the precomputed total balance
	// and the entries actually available disagree. Internal error, never
	// retried.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")

	// ErrDuplicateIdempotencyKey is returned when an earn reuses an
	// idempotency key. Expected behavior for network retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicatePayer is returned when a payer name already exists.
	ErrDuplicatePayer = errors.New("payer already exists")

	// ErrDuplicateUser is returned when a username already exists.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrPayerNotFound is returned when a referenced payer doesn't exist.
	ErrPayerNotFound = errors.New("payer not found")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user %d has %d, requested %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InconsistencyError provides details about a total/entries mismatch found
// while planning a spend.
type InconsistencyError struct {
	UserID    UserID
	Expected  int64 // total balance reported by the store
	Allocated int64 // points actually found in positive entries
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency: user %d total %d but only %d allocatable",
		e.UserID, e.Expected, e.Allocated)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrLedgerInconsistency
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicatePayer) ||
		errors.Is(err, ErrDuplicateUser)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPayerNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
