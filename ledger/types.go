/*
Package ledger provides the core points-ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking reward
  points a user earns from multiple sponsoring payers, and for spending those
  points oldest-first. The engine is persistence-agnostic: all durable state
  lives behind the Store interfaces defined in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: A single point-earning record (user, payer, points, timestamp)
  - SpendPlan: The computed set of entry decrements for one spend request
  - PayerDelta: The caller-facing per-payer summary of a committed spend
  - User/Payer: Thin identity records owned by the store

CORE INVARIANTS (hold after every committed mutation):
  1. For every (user, payer) pair, sum of that pair's entry points >= 0
  2. For every user, sum of all entry points >= 0
  3. Spending consumes entries in ascending timestamp order, oldest first,
     regardless of which payer they came from

SEE ALSO:
  - allocator.go: Oldest-first spend plan computation
  - balance.go: Balance aggregation from entries
  - mutator.go: Applying earns and spend plans to the store
  - service.go: The caller-facing facade with retry discipline
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type PayerID int64
type EntryID int64

// =============================================================================
// ENTRY - Atomic unit of the ledger
// =============================================================================

// Entry is one point-earning record. Entries are created at full value by an
// earn operation and only ever shrink afterwards: a spend decrements Points in
// place, never below zero, and never deletes the row. The original earn
// Timestamp is preserved so later spends still order correctly.
type Entry struct {
	ID        EntryID
	UserID    UserID
	PayerID   PayerID
	Points    int64
	Timestamp time.Time
}

// =============================================================================
// SPEND PLAN - Computed entry decrements for one spend request
// =============================================================================

// PlanLine is a single decrement: take Delta points from the entry.
// ExpectedPoints is the entry's Points value at planning time; the store's
// compare-and-swap uses it to detect concurrent modification.
type PlanLine struct {
	EntryID        EntryID
	PayerID        PayerID
	Delta          int64
	ExpectedPoints int64
}

// SpendPlan is the ordered list of decrements that satisfies one spend
// request. Applying the plan decreases the user's total balance by exactly
// Amount, drives no entry below zero, and drives no payer's balance below
// zero.
type SpendPlan struct {
	UserID UserID
	Amount int64
	Lines  []PlanLine
}

// PayerDeltas groups the plan by payer, preserving the order in which each
// payer was first consumed. Deltas are negative (points removed).
func (p SpendPlan) PayerDeltas() []PayerDelta {
	index := make(map[PayerID]int)
	var deltas []PayerDelta
	for _, line := range p.Lines {
		i, ok := index[line.PayerID]
		if !ok {
			i = len(deltas)
			index[line.PayerID] = i
			deltas = append(deltas, PayerDelta{PayerID: line.PayerID})
		}
		deltas[i].Points -= line.Delta
	}
	return deltas
}

// PayerDelta is the caller-facing summary of how much a committed spend took
// from one payer. Points is negative.
type PayerDelta struct {
	PayerID PayerID
	Points  int64
}

// SpendResult is returned to callers after a spend commits.
type SpendResult struct {
	// SpendID uniquely identifies the committed spend operation for logs
	// and client-side reconciliation.
	SpendID string
	Deltas  []PayerDelta
}

// =============================================================================
// USERS AND PAYERS
// =============================================================================

// Payer is a named sponsor. Immutable once created; both ID and Name are
// unique and stable.
type Payer struct {
	ID   PayerID
	Name string
}

// User owns zero or more ledger entries. No other attributes are tracked.
type User struct {
	ID       UserID
	Username string
}
