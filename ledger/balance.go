/*
balance.go - Balance aggregation

PURPOSE:
  Answers "how many points does this user have?" by summing ledger entries.
  Used both to validate spend requests and to serve balance queries.
  Read-only; no side effects.

SEMANTICS:
  - Total balance for a user with no entries is 0, not an error.
  - Per-payer balances include payers with a zero net balance as long as
    they have at least one entry for the user; payers with no entries are
    omitted rather than reported as zero.

SEE ALSO:
  - allocator.go: Uses the same sums as its precondition check
*/
package ledger

import "context"

// Aggregator computes balances from the store's entry sums.
type Aggregator struct {
	Store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store}
}

// TotalBalance returns the sum of points across all of the user's entries.
func (a *Aggregator) TotalBalance(ctx context.Context, userID UserID) (int64, error) {
	return a.Store.SumPoints(ctx, userID)
}

// PayerBalances returns the user's balance per payer, one key per payer
// that has entries for the user.
func (a *Aggregator) PayerBalances(ctx context.Context, userID UserID) (map[PayerID]int64, error) {
	return a.Store.SumPointsByPayer(ctx, userID)
}
