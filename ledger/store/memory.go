// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.UserID][]ledger.Entry
	idempotency map[string]bool
	payers      []ledger.Payer
	users       []ledger.User
	nextEntry   ledger.EntryID
	nextPayer   ledger.PayerID
	nextUser    ledger.UserID
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.UserID][]ledger.Entry),
		idempotency: make(map[string]bool),
		nextEntry:   1,
		nextPayer:   1,
		nextUser:    1,
	}
}

// InsertEntry adds a single entry, keeping the user's slice sorted by
// timestamp then id.
func (m *Memory) InsertEntry(ctx context.Context, e ledger.Entry, idempotencyKey string) (ledger.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e, idempotencyKey)
}

func (m *Memory) insertLocked(e ledger.Entry, idempotencyKey string) (ledger.EntryID, error) {
	if idempotencyKey != "" && m.idempotency[idempotencyKey] {
		return 0, ledger.ErrDuplicateIdempotencyKey
	}

	e.ID = m.nextEntry
	m.nextEntry++

	entries := m.entries[e.UserID]

	// Binary search for the insertion point. Ids are assigned in insertion
	// order, so inserting after equal timestamps keeps the tie-break stable.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(e.Timestamp)
	})

	entries = append(entries, ledger.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.UserID] = entries

	if idempotencyKey != "" {
		m.idempotency[idempotencyKey] = true
	}
	return e.ID, nil
}

func (m *Memory) ListPositiveEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries[userID] {
		if e.Points > 0 {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) ListEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[userID]))
	copy(result, m.entries[userID])
	return result, nil
}

func (m *Memory) DecrementEntry(ctx context.Context, id ledger.EntryID, delta, expectedPoints int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(id, delta, expectedPoints)
}

func (m *Memory) decrementLocked(id ledger.EntryID, delta, expectedPoints int64) (bool, error) {
	for userID, entries := range m.entries {
		for i, e := range entries {
			if e.ID != id {
				continue
			}
			if e.Points != expectedPoints || delta > e.Points {
				return false, nil
			}
			m.entries[userID][i].Points -= delta
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SumPoints(ctx context.Context, userID ledger.UserID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.entries[userID] {
		total += e.Points
	}
	return total, nil
}

func (m *Memory) SumPointsByPayer(ctx context.Context, userID ledger.UserID) (map[ledger.PayerID]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[ledger.PayerID]int64)
	for _, e := range m.entries[userID] {
		sums[e.PayerID] += e.Points
	}
	return sums, nil
}

// =============================================================================
// PAYER / USER RECORDS
// =============================================================================

func (m *Memory) AddPayer(ctx context.Context, name string) (ledger.PayerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payers {
		if strings.EqualFold(p.Name, name) {
			return 0, ledger.ErrDuplicatePayer
		}
	}
	id := m.nextPayer
	m.nextPayer++
	m.payers = append(m.payers, ledger.Payer{ID: id, Name: name})
	return id, nil
}

func (m *Memory) ListPayers(ctx context.Context) ([]ledger.Payer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Payer, len(m.payers))
	copy(result, m.payers)
	return result, nil
}

func (m *Memory) GetPayerByID(ctx context.Context, id ledger.PayerID) (ledger.Payer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payers {
		if p.ID == id {
			return p, nil
		}
	}
	return ledger.Payer{}, ledger.ErrPayerNotFound
}

func (m *Memory) GetPayerByName(ctx context.Context, name string) (ledger.Payer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payers {
		if p.Name == name {
			return p, nil
		}
	}
	return ledger.Payer{}, ledger.ErrPayerNotFound
}

func (m *Memory) AddUser(ctx context.Context, username string) (ledger.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return 0, ledger.ErrDuplicateUser
		}
	}
	id := m.nextUser
	m.nextUser++
	m.users = append(m.users, ledger.User{ID: id, Username: username})
	return id, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.User, len(m.users))
	copy(result, m.users)
	return result, nil
}

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return ledger.User{}, ledger.ErrUserNotFound
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ ledger.TxStore = (*TxMemory)(nil)
var _ ledger.PayerStore = (*TxMemory)(nil)
var _ ledger.UserStore = (*TxMemory)(nil)

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}

	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entriesCopy := make(map[ledger.UserID][]ledger.Entry)
	for k, v := range tm.entries {
		entriesCopy[k] = append([]ledger.Entry{}, v...)
	}
	idempCopy := make(map[string]bool)
	for k, v := range tm.idempotency {
		idempCopy[k] = v
	}
	return memorySnapshot{
		entries:     entriesCopy,
		idempotency: idempCopy,
		nextEntry:   tm.nextEntry,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.idempotency = s.idempotency
	tm.nextEntry = s.nextEntry
}

type memorySnapshot struct {
	entries     map[ledger.UserID][]ledger.Entry
	idempotency map[string]bool
	nextEntry   ledger.EntryID
}

// txMemoryView runs against the parent's state while the parent's lock is
// held by WithTx, so it bypasses the locking methods.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertEntry(ctx context.Context, e ledger.Entry, idempotencyKey string) (ledger.EntryID, error) {
	return tv.parent.insertLocked(e, idempotencyKey)
}

func (tv *txMemoryView) ListPositiveEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for _, e := range tv.parent.entries[userID] {
		if e.Points > 0 {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txMemoryView) ListEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return tv.parent.entries[userID], nil
}

func (tv *txMemoryView) DecrementEntry(ctx context.Context, id ledger.EntryID, delta, expectedPoints int64) (bool, error) {
	return tv.parent.decrementLocked(id, delta, expectedPoints)
}

func (tv *txMemoryView) SumPoints(ctx context.Context, userID ledger.UserID) (int64, error) {
	var total int64
	for _, e := range tv.parent.entries[userID] {
		total += e.Points
	}
	return total, nil
}

func (tv *txMemoryView) SumPointsByPayer(ctx context.Context, userID ledger.UserID) (map[ledger.PayerID]int64, error) {
	sums := make(map[ledger.PayerID]int64)
	for _, e := range tv.parent.entries[userID] {
		sums[e.PayerID] += e.Points
	}
	return sums, nil
}
