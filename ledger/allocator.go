/*
allocator.go - Oldest-first spend plan computation

PURPOSE:
  Computes, for a requested spend amount, which ledger entries to debit and
  by how much. This is the core business logic of the engine.

ALGORITHM:
  1. Reject non-positive amounts (ErrInvalidAmount).
  2. Reject amounts above the user's total balance (ErrInsufficientBalance).
  3. Walk the user's positive entries oldest-first (timestamp asc, entry id
     asc for ties) and greedily take min(entry.points, remaining) from each
     until the amount is covered.
  4. Running out of positive entries with remaining > 0 means the store's
     total and its entries disagree: ErrLedgerInconsistency.

PER-PAYER NON-NEGATIVITY:
  The plan never takes more from an entry than that entry currently holds,
  so no payer's sum can be driven below zero and no cross-payer borrowing
  is possible.

DETERMINISM:
  For a fixed entry snapshot the plan is fully deterministic; ties on equal
  timestamps resolve by insertion order (entry id).

SEE ALSO:
  - mutator.go: Applies the plan with compare-and-swap semantics
  - service.go: Wraps plan+apply in a retry loop
*/
package ledger

import "context"

// =============================================================================
// SPEND ALLOCATOR
// =============================================================================

// Allocator computes spend plans from the current entry snapshot.
type Allocator struct {
	Store Store
}

func NewAllocator(store Store) *Allocator {
	return &Allocator{Store: store}
}

// ComputeSpendPlan returns the ordered entry decrements that satisfy a
// spend of amount points for the user, or an error if the request cannot
// be satisfied. The returned plan carries each entry's observed points so
// the apply step can detect concurrent modification.
func (a *Allocator) ComputeSpendPlan(ctx context.Context, userID UserID, amount int64) (SpendPlan, error) {
	if amount <= 0 {
		return SpendPlan{}, ErrInvalidAmount
	}

	total, err := a.Store.SumPoints(ctx, userID)
	if err != nil {
		return SpendPlan{}, err
	}
	if amount > total {
		return SpendPlan{}, &InsufficientBalanceError{
			UserID:    userID,
			Available: total,
			Requested: amount,
		}
	}

	entries, err := a.Store.ListPositiveEntries(ctx, userID)
	if err != nil {
		return SpendPlan{}, err
	}

	plan := SpendPlan{UserID: userID, Amount: amount}
	remaining := amount
	for _, e := range entries {
		if remaining == 0 {
			break
		}
		take := e.Points
		if take > remaining {
			take = remaining
		}
		plan.Lines = append(plan.Lines, PlanLine{
			EntryID:        e.ID,
			PayerID:        e.PayerID,
			Delta:          take,
			ExpectedPoints: e.Points,
		})
		remaining -= take
	}

	if remaining > 0 {
		// The precomputed total promised more points than the positive
		// entries actually hold. Data integrity problem, not a user error.
		return SpendPlan{}, &InconsistencyError{
			UserID:    userID,
			Expected:  total,
			Allocated: amount - remaining,
		}
	}

	return plan, nil
}
