package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *store.TxMemory {
	t.Helper()
	return store.NewTxMemory()
}

func mustEarn(t *testing.T, s *store.TxMemory, user ledger.UserID, payer ledger.PayerID, points int64, at time.Time) ledger.EntryID {
	t.Helper()
	id, err := s.InsertEntry(context.Background(), ledger.Entry{
		UserID:    user,
		PayerID:   payer,
		Points:    points,
		Timestamp: at,
	}, "")
	require.NoError(t, err)
	return id
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// =============================================================================
// SPEND PLAN TESTS
// =============================================================================

func TestAllocator_OldestFirst_AcrossPayers(t *testing.T) {
	// GIVEN: Two entries from different payers, the older from the
	//        smaller payer
	// WHEN: Spending an amount fully covered by the older entry
	// THEN: Only the older entry is debited, regardless of payer size

	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)
	ctx := context.Background()

	older := mustEarn(t, s, 1, 1, 100, ts("2020-10-31T10:00:00Z"))
	mustEarn(t, s, 1, 2, 10000, ts("2020-11-01T14:00:00Z"))

	plan, err := alloc.ComputeSpendPlan(ctx, 1, 50)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 1)
	assert.Equal(t, older, plan.Lines[0].EntryID)
	assert.Equal(t, int64(50), plan.Lines[0].Delta)
	assert.Equal(t, int64(100), plan.Lines[0].ExpectedPoints)
}

func TestAllocator_SpansEntriesUntilCovered(t *testing.T) {
	// GIVEN: Three entries of 300, 200, 1000 in chronological order
	// WHEN: Spending 450
	// THEN: Plan takes all 300 from the first, then 150 from the second

	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)

	e1 := mustEarn(t, s, 1, 1, 300, ts("2020-10-31T10:00:00Z"))
	e2 := mustEarn(t, s, 1, 2, 200, ts("2020-10-31T11:00:00Z"))
	mustEarn(t, s, 1, 1, 1000, ts("2020-11-02T14:00:00Z"))

	plan, err := alloc.ComputeSpendPlan(context.Background(), 1, 450)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 2)
	assert.Equal(t, e1, plan.Lines[0].EntryID)
	assert.Equal(t, int64(300), plan.Lines[0].Delta)
	assert.Equal(t, e2, plan.Lines[1].EntryID)
	assert.Equal(t, int64(150), plan.Lines[1].Delta)
}

func TestAllocator_EqualTimestamps_TieBreakByInsertionOrder(t *testing.T) {
	// GIVEN: Two entries with the same timestamp
	// WHEN: Spending an amount covered by the first
	// THEN: The earlier-inserted entry is consumed first, deterministically

	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)
	at := ts("2021-01-01T00:00:00Z")

	first := mustEarn(t, s, 1, 1, 100, at)
	mustEarn(t, s, 1, 2, 100, at)

	for i := 0; i < 5; i++ {
		plan, err := alloc.ComputeSpendPlan(context.Background(), 1, 60)
		require.NoError(t, err)
		require.Len(t, plan.Lines, 1)
		assert.Equal(t, first, plan.Lines[0].EntryID)
	}
}

func TestAllocator_SkipsDrainedEntries(t *testing.T) {
	// GIVEN: The oldest entry has already been fully spent
	// WHEN: Computing a new plan
	// THEN: The drained entry is not touched again

	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)
	ctx := context.Background()

	e1 := mustEarn(t, s, 1, 1, 100, ts("2021-01-01T00:00:00Z"))
	e2 := mustEarn(t, s, 1, 2, 100, ts("2021-02-01T00:00:00Z"))

	ok, err := s.DecrementEntry(ctx, e1, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)

	plan, err := alloc.ComputeSpendPlan(ctx, 1, 40)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, e2, plan.Lines[0].EntryID)
}

func TestAllocator_InvalidAmount(t *testing.T) {
	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)
	mustEarn(t, s, 1, 1, 100, ts("2021-01-01T00:00:00Z"))

	for _, amount := range []int64{0, -1, -100} {
		_, err := alloc.ComputeSpendPlan(context.Background(), 1, amount)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
}

func TestAllocator_InsufficientBalance(t *testing.T) {
	// GIVEN: Total balance of 100
	// WHEN: Spending 101
	// THEN: InsufficientBalance with the shortfall detailed

	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)
	mustEarn(t, s, 1, 1, 100, ts("2021-01-01T00:00:00Z"))

	_, err := alloc.ComputeSpendPlan(context.Background(), 1, 101)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficientErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(100), insufficientErr.Available)
	assert.Equal(t, int64(101), insufficientErr.Requested)
}

func TestAllocator_UnknownUser_Insufficient(t *testing.T) {
	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)

	_, err := alloc.ComputeSpendPlan(context.Background(), 42, 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestAllocator_ExactBalance_DrainsEveryEntry(t *testing.T) {
	s := newTestStore(t)
	alloc := ledger.NewAllocator(s)

	mustEarn(t, s, 1, 1, 300, ts("2020-10-31T10:00:00Z"))
	mustEarn(t, s, 1, 2, 200, ts("2020-10-31T11:00:00Z"))

	plan, err := alloc.ComputeSpendPlan(context.Background(), 1, 500)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 2)
	var total int64
	for _, line := range plan.Lines {
		assert.Equal(t, line.ExpectedPoints, line.Delta, "exact spend should zero out every entry")
		total += line.Delta
	}
	assert.Equal(t, int64(500), total)
}

func TestAllocator_StoreInconsistency_IsInternalError(t *testing.T) {
	// GIVEN: A store whose reported total disagrees with its entries
	// WHEN: Computing a plan that the entries cannot cover
	// THEN: LedgerInconsistency, not a user-facing validation failure

	s := newTestStore(t)
	mustEarn(t, s, 1, 1, 100, ts("2021-01-01T00:00:00Z"))

	alloc := ledger.NewAllocator(&inflatedTotalStore{TxStore: s})

	_, err := alloc.ComputeSpendPlan(context.Background(), 1, 150)
	require.ErrorIs(t, err, ledger.ErrLedgerInconsistency)

	var inconsistencyErr *ledger.InconsistencyError
	require.ErrorAs(t, err, &inconsistencyErr)
	assert.Equal(t, int64(100), inconsistencyErr.Allocated)
}

// inflatedTotalStore reports a total larger than its entries hold.
type inflatedTotalStore struct {
	ledger.TxStore
}

func (s *inflatedTotalStore) SumPoints(ctx context.Context, userID ledger.UserID) (int64, error) {
	total, err := s.TxStore.SumPoints(ctx, userID)
	return total + 1000, err
}

// =============================================================================
// PLAN GROUPING
// =============================================================================

func TestSpendPlan_PayerDeltas_GroupsAndNegates(t *testing.T) {
	plan := ledger.SpendPlan{
		UserID: 1,
		Amount: 500,
		Lines: []ledger.PlanLine{
			{EntryID: 1, PayerID: 1, Delta: 300, ExpectedPoints: 300},
			{EntryID: 2, PayerID: 2, Delta: 100, ExpectedPoints: 200},
			{EntryID: 3, PayerID: 1, Delta: 100, ExpectedPoints: 100},
		},
	}

	deltas := plan.PayerDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, ledger.PayerDelta{PayerID: 1, Points: -400}, deltas[0])
	assert.Equal(t, ledger.PayerDelta{PayerID: 2, Points: -100}, deltas[1])
}
