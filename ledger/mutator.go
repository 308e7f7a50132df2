/*
mutator.go - Applying earns and spend plans to the store

PURPOSE:
  The write side of the engine. Earns are plain inserts. Spend plans are
  applied as a single atomic unit: every decrement is a compare-and-swap
  against the points value observed at planning time, and the whole batch
  runs inside one store transaction, so either all decrements commit or
  none do.

CONFLICT DETECTION:
  If any entry's points changed since the plan was computed, its CAS fails
  and ApplySpendPlan returns ErrConcurrentModification. The transaction
  rolls back, leaving every entry untouched. The caller (service.go)
  re-reads, re-plans, and re-applies.

SEE ALSO:
  - allocator.go: Produces the plans applied here
  - store.go: DecrementEntry and TxStore contracts
*/
package ledger

import "context"

// =============================================================================
// LEDGER MUTATOR
// =============================================================================

// Mutator applies earns and spend plans.
type Mutator struct {
	Store TxStore
}

func NewMutator(store TxStore) *Mutator {
	return &Mutator{Store: store}
}

// ApplyEarn inserts a new entry with the given positive points. Returns
// ErrInvalidAmount for points <= 0. The idempotency key may be empty;
// reusing a non-empty key returns ErrDuplicateIdempotencyKey.
func (m *Mutator) ApplyEarn(ctx context.Context, e Entry, idempotencyKey string) (EntryID, error) {
	if e.Points <= 0 {
		return 0, ErrInvalidAmount
	}
	return m.Store.InsertEntry(ctx, e, idempotencyKey)
}

// ApplySpendPlan atomically decrements every entry named in the plan.
// A single failed compare-and-swap aborts the whole batch with
// ErrConcurrentModification and no entry is changed.
func (m *Mutator) ApplySpendPlan(ctx context.Context, plan SpendPlan) error {
	return m.Store.WithTx(ctx, func(s Store) error {
		for _, line := range plan.Lines {
			ok, err := s.DecrementEntry(ctx, line.EntryID, line.Delta, line.ExpectedPoints)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConcurrentModification
			}
		}
		return nil
	})
}
