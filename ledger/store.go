/*
store.go - Persistence interfaces for the points ledger

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:      Entry persistence (insert, list, sums, CAS decrement)
  TxStore:    Transactional operations (atomic multi-entry decrements)
  PayerStore: Payer records
  UserStore:  User records

MUTATION CONTRACT:
  Entries are inserted at full value and only ever decremented afterwards.
  DecrementEntry is a compare-and-swap: it succeeds only if the entry's
  current points equal expectedPoints, so a spend plan computed against a
  stale snapshot cannot silently drive an entry below zero.

ORDERING CONTRACT:
  ListPositiveEntries and ListEntries return entries sorted ascending by
  timestamp, ties broken by ascending entry id. The allocator depends on
  this ordering for determinism.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - ledger/store: In-memory store for testing
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entry persistence
// =============================================================================

// Store handles persistence of ledger entries.
type Store interface {
	// InsertEntry persists a new entry and returns its id. The idempotency
	// key may be empty; a non-empty duplicate key returns
	// ErrDuplicateIdempotencyKey.
	InsertEntry(ctx context.Context, e Entry, idempotencyKey string) (EntryID, error)

	// ListPositiveEntries returns the user's entries with points > 0,
	// sorted ascending by timestamp then entry id.
	ListPositiveEntries(ctx context.Context, userID UserID) ([]Entry, error)

	// ListEntries returns all of the user's entries, including drained
	// ones, in the same order.
	ListEntries(ctx context.Context, userID UserID) ([]Entry, error)

	// DecrementEntry subtracts delta from the entry's points, but only if
	// the current points equal expectedPoints. Returns false on mismatch
	// (concurrent modification), with no change made.
	DecrementEntry(ctx context.Context, id EntryID, delta, expectedPoints int64) (bool, error)

	// SumPoints returns the user's total balance. Zero for an unknown user.
	SumPoints(ctx context.Context, userID UserID) (int64, error)

	// SumPointsByPayer returns the user's balance per payer, one key per
	// payer that has at least one entry for the user.
	SumPointsByPayer(ctx context.Context, userID UserID) (map[PayerID]int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic multi-entry operations
// =============================================================================

// TxStore wraps Store with transaction support. Applying a spend plan uses
// this so that either every decrement commits or none do.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// PAYERS AND USERS
// =============================================================================

// PayerStore handles payer records. Payers are immutable once created.
type PayerStore interface {
	// AddPayer creates a payer. Duplicate names return ErrDuplicatePayer.
	AddPayer(ctx context.Context, name string) (PayerID, error)

	// ListPayers returns all payers, ascending by id.
	ListPayers(ctx context.Context) ([]Payer, error)

	// GetPayerByID returns ErrPayerNotFound for an unknown id.
	GetPayerByID(ctx context.Context, id PayerID) (Payer, error)

	// GetPayerByName returns ErrPayerNotFound for an unknown name.
	GetPayerByName(ctx context.Context, name string) (Payer, error)
}

// UserStore handles user records.
type UserStore interface {
	// AddUser creates a user. Duplicate usernames return ErrDuplicateUser.
	AddUser(ctx context.Context, username string) (UserID, error)

	// ListUsers returns all users, ascending by id.
	ListUsers(ctx context.Context) ([]User, error)

	// GetUser returns ErrUserNotFound for an unknown id.
	GetUser(ctx context.Context, id UserID) (User, error)
}

// Clock abstracts time for earn defaulting; tests substitute a fixed clock.
type Clock func() time.Time
