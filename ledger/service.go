/*
service.go - Caller-facing facade for the points engine

PURPOSE:
  Combines the aggregator, allocator and mutator into the four operations
  the API layer consumes: Earn, Spend, Balance, BalancesByPayer (plus the
  entry history listing). The spend retry discipline lives here.

SPEND FLOW:
  1. ComputeSpendPlan against the current entry snapshot
  2. ApplySpendPlan with compare-and-swap semantics
  3. On ErrConcurrentModification, back off briefly and restart from 1
  4. After maxSpendAttempts conflicts, surface the conflict to the caller

  InvalidAmount and InsufficientBalance fail synchronously and are never
  retried; a balance that was insufficient a moment ago may be sufficient
  after a concurrent earn, but that is the caller's retry to make.

SEE ALSO:
  - api/handlers.go: HTTP mapping of these operations
*/
package ledger

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// maxSpendAttempts bounds plan/apply cycles on optimistic conflicts.
const maxSpendAttempts = 5

// conflictBackoff is the base delay between spend attempts; actual delay is
// jittered in [base, 2*base) to de-synchronize contending spenders.
const conflictBackoff = 5 * time.Millisecond

// =============================================================================
// SERVICE
// =============================================================================

// Service is the engine facade handed to the API layer.
type Service struct {
	store      TxStore
	aggregator *Aggregator
	allocator  *Allocator
	mutator    *Mutator
	now        Clock
}

func NewService(store TxStore) *Service {
	return &Service{
		store:      store,
		aggregator: NewAggregator(store),
		allocator:  NewAllocator(store),
		mutator:    NewMutator(store),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock substitutes the time source. Tests use this to pin earn
// timestamps.
func (s *Service) WithClock(now Clock) *Service {
	s.now = now
	return s
}

// EarnRequest records points earned by a user from a payer.
type EarnRequest struct {
	UserID  UserID
	PayerID PayerID
	Points  int64

	// Timestamp is when the points were earned. Zero means "now".
	Timestamp time.Time

	// IdempotencyKey guards against duplicate submission. Optional.
	IdempotencyKey string
}

// Earn appends a new entry to the user's ledger and returns it as stored,
// including the clock-defaulted timestamp when the request omitted one.
func (s *Service) Earn(ctx context.Context, req EarnRequest) (Entry, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	e := Entry{
		UserID:    req.UserID,
		PayerID:   req.PayerID,
		Points:    req.Points,
		Timestamp: ts.UTC(),
	}
	id, err := s.mutator.ApplyEarn(ctx, e, req.IdempotencyKey)
	if err != nil {
		return Entry{}, err
	}
	e.ID = id
	return e, nil
}

// Spend debits amount points from the user's ledger, oldest entries first,
// and returns the per-payer breakdown of what was taken. Either the whole
// spend commits or nothing does; no partial spend is ever observable.
func (s *Service) Spend(ctx context.Context, userID UserID, amount int64) (*SpendResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxSpendAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, conflictBackoff); err != nil {
				return nil, err
			}
		}

		plan, err := s.allocator.ComputeSpendPlan(ctx, userID, amount)
		if err != nil {
			return nil, err
		}

		if err := s.mutator.ApplySpendPlan(ctx, plan); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		return &SpendResult{
			SpendID: uuid.NewString(),
			Deltas:  plan.PayerDeltas(),
		}, nil
	}
	return nil, lastErr
}

// Balance returns the user's total balance. Zero for a user with no entries.
func (s *Service) Balance(ctx context.Context, userID UserID) (int64, error) {
	return s.aggregator.TotalBalance(ctx, userID)
}

// BalancesByPayer returns the user's balance per payer.
func (s *Service) BalancesByPayer(ctx context.Context, userID UserID) (map[PayerID]int64, error) {
	return s.aggregator.PayerBalances(ctx, userID)
}

// Entries returns the user's full entry history, chronological.
func (s *Service) Entries(ctx context.Context, userID UserID) ([]Entry, error) {
	return s.store.ListEntries(ctx, userID)
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	d := base + time.Duration(rand.Int63n(int64(base)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
