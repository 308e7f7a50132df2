package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestStore opens an in-memory database with one user ("demo") and two
// payers already created.
func newTestStore(t *testing.T) (*sqlite.Store, ledger.UserID, []ledger.PayerID) {
	t.Helper()

	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	userID, err := s.AddUser(ctx, "demo")
	require.NoError(t, err)

	var payerIDs []ledger.PayerID
	for _, name := range []string{"DANNON", "UNILEVER"} {
		id, err := s.AddPayer(ctx, name)
		require.NoError(t, err)
		payerIDs = append(payerIDs, id)
	}
	return s, userID, payerIDs
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func insert(t *testing.T, s ledger.Store, user ledger.UserID, payer ledger.PayerID, points int64, at string) ledger.EntryID {
	t.Helper()
	id, err := s.InsertEntry(context.Background(), ledger.Entry{
		UserID:    user,
		PayerID:   payer,
		Points:    points,
		Timestamp: ts(at),
	}, "")
	require.NoError(t, err)
	return id
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestStore_ListEntries_OrderedByTimestampThenID(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	idLate := insert(t, s, user, payers[0], 30, "2021-03-01T00:00:00Z")
	idFirst := insert(t, s, user, payers[1], 10, "2021-01-01T00:00:00Z")
	idSecond := insert(t, s, user, payers[0], 20, "2021-01-01T00:00:00Z")

	entries, err := s.ListEntries(ctx, user)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []ledger.EntryID{idFirst, idSecond, idLate},
		[]ledger.EntryID{entries[0].ID, entries[1].ID, entries[2].ID})

	// Round-tripped fields survive intact.
	assert.Equal(t, user, entries[0].UserID)
	assert.Equal(t, payers[1], entries[0].PayerID)
	assert.Equal(t, int64(10), entries[0].Points)
	assert.True(t, entries[0].Timestamp.Equal(ts("2021-01-01T00:00:00Z")))
}

func TestStore_ListEntries_MixedPrecisionTimestamps(t *testing.T) {
	// GIVEN: A sub-second entry inserted before a whole-second entry that is
	//        actually 500ms older
	// WHEN: Listing entries
	// THEN: Chronological order wins; text representation must not reorder
	//       entries whose fractional precision differs

	s, user, payers := newTestStore(t)
	ctx := context.Background()

	later := insert(t, s, user, payers[0], 10, "2020-10-31T10:00:00.5Z")
	older := insert(t, s, user, payers[1], 20, "2020-10-31T10:00:00Z")

	entries, err := s.ListPositiveEntries(ctx, user)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, older, entries[0].ID, "whole-second entry is 500ms older and must come first")
	assert.Equal(t, later, entries[1].ID)

	all, err := s.ListEntries(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, older, all[0].ID)
	assert.True(t, all[1].Timestamp.Equal(ts("2020-10-31T10:00:00.5Z")))
}

func TestStore_ListPositiveEntries_ExcludesDrained(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	drained := insert(t, s, user, payers[0], 50, "2021-01-01T00:00:00Z")
	kept := insert(t, s, user, payers[0], 70, "2021-01-02T00:00:00Z")

	ok, err := s.DecrementEntry(ctx, drained, 50, 50)
	require.NoError(t, err)
	require.True(t, ok)

	positive, err := s.ListPositiveEntries(ctx, user)
	require.NoError(t, err)
	require.Len(t, positive, 1)
	assert.Equal(t, kept, positive[0].ID)

	all, err := s.ListEntries(ctx, user)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_InsertEntry_IdempotencyKeyUnique(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	e := ledger.Entry{UserID: user, PayerID: payers[0], Points: 10, Timestamp: ts("2021-01-01T00:00:00Z")}

	_, err := s.InsertEntry(ctx, e, "key-1")
	require.NoError(t, err)

	_, err = s.InsertEntry(ctx, e, "key-1")
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// NULL keys never collide with each other.
	_, err = s.InsertEntry(ctx, e, "")
	require.NoError(t, err)
	_, err = s.InsertEntry(ctx, e, "")
	require.NoError(t, err)
}

func TestStore_InsertEntry_UnknownPayerRejected(t *testing.T) {
	s, user, _ := newTestStore(t)

	_, err := s.InsertEntry(context.Background(), ledger.Entry{
		UserID: user, PayerID: 999, Points: 10, Timestamp: ts("2021-01-01T00:00:00Z"),
	}, "")
	assert.ErrorIs(t, err, ledger.ErrPayerNotFound)
}

// =============================================================================
// COMPARE-AND-SWAP DECREMENT
// =============================================================================

func TestStore_DecrementEntry_CAS(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	id := insert(t, s, user, payers[0], 100, "2021-01-01T00:00:00Z")

	// Stale expectation: no rows match, caller must re-plan.
	ok, err := s.DecrementEntry(ctx, id, 10, 90)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DecrementEntry(ctx, id, 10, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	// Delta larger than the guarded value would violate points >= 0.
	ok, err = s.DecrementEntry(ctx, id, 91, 90)
	require.NoError(t, err)
	assert.False(t, ok)

	total, err := s.SumPoints(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(90), total)
}

// =============================================================================
// SUMS
// =============================================================================

func TestStore_Sums(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	insert(t, s, user, payers[0], 300, "2021-01-01T00:00:00Z")
	insert(t, s, user, payers[1], 200, "2021-01-02T00:00:00Z")
	insert(t, s, user, payers[0], 1000, "2021-01-03T00:00:00Z")

	total, err := s.SumPoints(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), total)

	byPayer, err := s.SumPointsByPayer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, map[ledger.PayerID]int64{payers[0]: 1300, payers[1]: 200}, byPayer)
}

func TestStore_SumPoints_NoEntriesIsZero(t *testing.T) {
	s, user, _ := newTestStore(t)

	total, err := s.SumPoints(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_CommitsOnNil(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	id := insert(t, s, user, payers[0], 100, "2021-01-01T00:00:00Z")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		ok, err := tx.DecrementEntry(ctx, id, 40, 100)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	total, err := s.SumPoints(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
}

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	id1 := insert(t, s, user, payers[0], 100, "2021-01-01T00:00:00Z")
	id2 := insert(t, s, user, payers[1], 50, "2021-01-02T00:00:00Z")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		ok, err := tx.DecrementEntry(ctx, id1, 100, 100)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.DecrementEntry(ctx, id2, 50, 49)
		require.NoError(t, err)
		require.False(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	total, err := s.SumPoints(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(150), total, "rollback must restore every row")
}

// =============================================================================
// PAYERS AND USERS
// =============================================================================

func TestStore_Payers(t *testing.T) {
	s, _, payers := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddPayer(ctx, "dannon")
	assert.ErrorIs(t, err, ledger.ErrDuplicatePayer, "payer names collate case-insensitively")

	p, err := s.GetPayerByID(ctx, payers[0])
	require.NoError(t, err)
	assert.Equal(t, "DANNON", p.Name)

	p, err = s.GetPayerByName(ctx, "UNILEVER")
	require.NoError(t, err)
	assert.Equal(t, payers[1], p.ID)

	_, err = s.GetPayerByID(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrPayerNotFound)

	list, err := s.ListPayers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "DANNON", list[0].Name)
}

func TestStore_Users(t *testing.T) {
	s, user, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddUser(ctx, "demo")
	assert.ErrorIs(t, err, ledger.ErrDuplicateUser)

	u, err := s.GetUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "demo", u.Username)

	_, err = s.GetUser(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

// =============================================================================
// END TO END WITH THE SERVICE
// =============================================================================

func TestStore_DrivesFullSpendFlow(t *testing.T) {
	s, user, payers := newTestStore(t)
	ctx := context.Background()

	miller, err := s.AddPayer(ctx, "MILLER COORS")
	require.NoError(t, err)

	svc := ledger.NewService(s)

	earns := []struct {
		payer  ledger.PayerID
		points int64
		at     string
	}{
		{payers[0], 300, "2020-10-31T10:00:00Z"},
		{payers[1], 200, "2020-10-31T11:00:00Z"},
		{payers[0], 1000, "2020-11-02T14:00:00Z"},
		{miller, 10000, "2020-11-01T14:00:00Z"},
	}
	for _, e := range earns {
		_, err := svc.Earn(ctx, ledger.EarnRequest{
			UserID: user, PayerID: e.payer, Points: e.points, Timestamp: ts(e.at),
		})
		require.NoError(t, err)
	}

	result, err := svc.Spend(ctx, user, 5000)
	require.NoError(t, err)
	require.Equal(t, []ledger.PayerDelta{
		{PayerID: payers[0], Points: -300},
		{PayerID: payers[1], Points: -200},
		{PayerID: miller, Points: -4500},
	}, result.Deltas)

	byPayer, err := svc.BalancesByPayer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, map[ledger.PayerID]int64{
		payers[0]: 1000,
		payers[1]: 0,
		miller:    5500,
	}, byPayer)
}
