/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore, ledger.PayerStore and ledger.UserStore using
  SQLite. In production, the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  users:       User identities (unique username)
  payers:      Sponsor identities (unique name, immutable)
  user_points: The ledger itself; one row per earn, decremented in place
               by spends, never deleted except via cascading user/payer
               deletes

MUTATION CONTRACT:
  user_points rows are inserted at full value and only ever decremented.
  DecrementEntry is a guarded UPDATE:

    UPDATE user_points SET points = points - ?
    WHERE user_points_id = ? AND points = ?

  Zero rows affected signals that the entry changed since it was read
  (optimistic concurrency conflict); the caller re-plans the spend.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/points-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.TxStore = (*Store)(nil)
var _ ledger.PayerStore = (*Store)(nil)
var _ ledger.UserStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases shared across calls and
	// serializes SQLite's single writer without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payers (
		payer_id INTEGER PRIMARY KEY AUTOINCREMENT,
		payer TEXT NOT NULL UNIQUE COLLATE NOCASE,
		created_at TEXT NOT NULL
	);

	-- The ledger. Rows are inserted at full value and decremented in place
	-- by spends; points never drops below zero.
	CREATE TABLE IF NOT EXISTS user_points (
		user_points_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL
			REFERENCES users(user_id) ON DELETE CASCADE ON UPDATE CASCADE,
		payer_id INTEGER NOT NULL
			REFERENCES payers(payer_id) ON DELETE CASCADE ON UPDATE CASCADE,
		points INTEGER NOT NULL CHECK (points >= 0),
		timestamp TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Hot path: oldest-first allocation scans and balance sums
	CREATE INDEX IF NOT EXISTS idx_user_points_user_timestamp
		ON user_points(user_id, timestamp, user_points_id);
	CREATE INDEX IF NOT EXISTS idx_user_points_user_payer
		ON user_points(user_id, payer_id);
	CREATE INDEX IF NOT EXISTS idx_user_points_idempotency
		ON user_points(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is the fixed-width form timestamps are stored in. RFC3339Nano
// trims trailing fractional zeros, so mixed-precision values would not sort
// chronologically under the lexicographic ORDER BY the entry queries rely on.
// Every fraction digit is always written, keeping text order == time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx so the same statement
// helpers serve plain and transactional calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRY STORE (ledger.Store interface)
// =============================================================================

// InsertEntry adds a ledger row.
func (s *Store) InsertEntry(ctx context.Context, e ledger.Entry, idempotencyKey string) (ledger.EntryID, error) {
	return insertEntry(ctx, s.db, e, idempotencyKey)
}

func insertEntry(ctx context.Context, q querier, e ledger.Entry, idempotencyKey string) (ledger.EntryID, error) {
	query := `
		INSERT INTO user_points (user_id, payer_id, points, timestamp, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := q.ExecContext(ctx, query,
		e.UserID,
		e.PayerID,
		e.Points,
		e.Timestamp.UTC().Format(timeLayout),
		nullString(idempotencyKey),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		if isForeignKeyError(err) {
			return 0, fmt.Errorf("insert entry: %w", ledger.ErrPayerNotFound)
		}
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read entry id: %w", err)
	}
	return ledger.EntryID(id), nil
}

// ListPositiveEntries returns the user's spendable entries, oldest first.
func (s *Store) ListPositiveEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return listEntries(ctx, s.db, userID, true)
}

// ListEntries returns all of the user's entries, oldest first.
func (s *Store) ListEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return listEntries(ctx, s.db, userID, false)
}

func listEntries(ctx context.Context, q querier, userID ledger.UserID, positiveOnly bool) ([]ledger.Entry, error) {
	query := `
		SELECT user_points_id, user_id, payer_id, points, timestamp
		FROM user_points
		WHERE user_id = ?
	`
	if positiveOnly {
		query += ` AND points > 0`
	}
	query += ` ORDER BY timestamp ASC, user_points_id ASC`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.UserID, &e.PayerID, &e.Points, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry timestamp %q: %w", ts, err)
		}
		e.Timestamp = t
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DecrementEntry is the compare-and-swap write at the heart of the spend
// protocol. Zero rows affected means the entry's points no longer equal
// expectedPoints and the caller must re-plan.
func (s *Store) DecrementEntry(ctx context.Context, id ledger.EntryID, delta, expectedPoints int64) (bool, error) {
	return decrementEntry(ctx, s.db, id, delta, expectedPoints)
}

func decrementEntry(ctx context.Context, q querier, id ledger.EntryID, delta, expectedPoints int64) (bool, error) {
	if delta <= 0 || delta > expectedPoints {
		return false, nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE user_points
		SET points = points - ?
		WHERE user_points_id = ? AND points = ?
	`, delta, id, expectedPoints)
	if err != nil {
		return false, fmt.Errorf("failed to decrement entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// SumPoints returns the user's total balance (0 for no rows).
func (s *Store) SumPoints(ctx context.Context, userID ledger.UserID) (int64, error) {
	return sumPoints(ctx, s.db, userID)
}

func sumPoints(ctx context.Context, q querier, userID ledger.UserID) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM user_points WHERE user_id = ?
	`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum points: %w", err)
	}
	return total, nil
}

// SumPointsByPayer returns per-payer balances for payers that have entries.
func (s *Store) SumPointsByPayer(ctx context.Context, userID ledger.UserID) (map[ledger.PayerID]int64, error) {
	return sumPointsByPayer(ctx, s.db, userID)
}

func sumPointsByPayer(ctx context.Context, q querier, userID ledger.UserID) (map[ledger.PayerID]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT payer_id, SUM(points)
		FROM user_points
		WHERE user_id = ?
		GROUP BY payer_id
		ORDER BY payer_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum points by payer: %w", err)
	}
	defer rows.Close()

	sums := make(map[ledger.PayerID]int64)
	for rows.Next() {
		var payerID ledger.PayerID
		var sum int64
		if err := rows.Scan(&payerID, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan payer sum: %w", err)
		}
		sums[payerID] = sum
	}
	return sums, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertEntry(ctx context.Context, e ledger.Entry, idempotencyKey string) (ledger.EntryID, error) {
	return insertEntry(ctx, ts.tx, e, idempotencyKey)
}

func (ts *txStore) ListPositiveEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return listEntries(ctx, ts.tx, userID, true)
}

func (ts *txStore) ListEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return listEntries(ctx, ts.tx, userID, false)
}

func (ts *txStore) DecrementEntry(ctx context.Context, id ledger.EntryID, delta, expectedPoints int64) (bool, error) {
	return decrementEntry(ctx, ts.tx, id, delta, expectedPoints)
}

func (ts *txStore) SumPoints(ctx context.Context, userID ledger.UserID) (int64, error) {
	return sumPoints(ctx, ts.tx, userID)
}

func (ts *txStore) SumPointsByPayer(ctx context.Context, userID ledger.UserID) (map[ledger.PayerID]int64, error) {
	return sumPointsByPayer(ctx, ts.tx, userID)
}

// =============================================================================
// PAYER STORE (ledger.PayerStore interface)
// =============================================================================

// AddPayer creates a payer. Names are unique case-insensitively.
func (s *Store) AddPayer(ctx context.Context, name string) (ledger.PayerID, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payers (payer, created_at) VALUES (?, ?)
	`, name, time.Now().UTC().Format(timeLayout))
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicatePayer
		}
		return 0, fmt.Errorf("failed to add payer: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read payer id: %w", err)
	}
	return ledger.PayerID(id), nil
}

// ListPayers returns all payers, ascending by id.
func (s *Store) ListPayers(ctx context.Context) ([]ledger.Payer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payer_id, payer FROM payers ORDER BY payer_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list payers: %w", err)
	}
	defer rows.Close()

	var payers []ledger.Payer
	for rows.Next() {
		var p ledger.Payer
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan payer: %w", err)
		}
		payers = append(payers, p)
	}
	return payers, rows.Err()
}

// GetPayerByID returns a payer by id.
func (s *Store) GetPayerByID(ctx context.Context, id ledger.PayerID) (ledger.Payer, error) {
	return s.getPayer(ctx, `SELECT payer_id, payer FROM payers WHERE payer_id = ?`, id)
}

// GetPayerByName returns a payer by its unique display name.
func (s *Store) GetPayerByName(ctx context.Context, name string) (ledger.Payer, error) {
	return s.getPayer(ctx, `SELECT payer_id, payer FROM payers WHERE payer = ?`, name)
}

func (s *Store) getPayer(ctx context.Context, query string, arg any) (ledger.Payer, error) {
	var p ledger.Payer
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&p.ID, &p.Name)
	if err == sql.ErrNoRows {
		return ledger.Payer{}, ledger.ErrPayerNotFound
	}
	if err != nil {
		return ledger.Payer{}, fmt.Errorf("failed to get payer: %w", err)
	}
	return p, nil
}

// =============================================================================
// USER STORE (ledger.UserStore interface)
// =============================================================================

// AddUser creates a user.
func (s *Store) AddUser(ctx context.Context, username string) (ledger.UserID, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, created_at) VALUES (?, ?)
	`, username, time.Now().UTC().Format(timeLayout))
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicateUser
		}
		return 0, fmt.Errorf("failed to add user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read user id: %w", err)
	}
	return ledger.UserID(id), nil
}

// ListUsers returns all users, ascending by id.
func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username FROM users ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var u ledger.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	var u ledger.User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username FROM users WHERE user_id = ?
	`, id).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	if err != nil {
		return ledger.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
