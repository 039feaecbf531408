/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (versioned KV namespace + append-only ledger)
  using SQLite. This is the default persistence for a single-node
  deployment; store/postgres implements the same contract for a managed
  database.

INTERFACES IMPLEMENTED:
  generic.KV:      Versioned key-value records (users, teams, balances, requests, votes)
  generic.Journal: Transaction persistence
  generic.TxStore: Atomic multi-write transactions

APPEND-ONLY ENFORCEMENT:
  The Journal enforces append-only semantics:
  - No UPDATE statements on transactions table
  - No DELETE statements on transactions table (except Reset for demos)
  - Corrections via adjustment transactions only

KEY TABLES:
  kv:           key TEXT PRIMARY KEY, value BLOB, version INTEGER
  transactions: Immutable ledger of all balance changes

OPTIMISTIC CONCURRENCY:
  CompareAndSwap is a single conditional statement:
    expected == 0: INSERT ... ON CONFLICT(key) DO NOTHING
    expected  > 0: UPDATE ... WHERE key = ? AND version = ?
  Zero affected rows means another writer got there first and the call
  returns generic.ErrConcurrentModification.

CONNECTIONS:
  The pool is capped at a single connection. SQLite allows one writer at a
  time anyway, and ":memory:" databases are per-connection. Inside WithTx
  every read and write goes through the *sql.Tx view, never through the
  parent pool, otherwise the call would wait on its own connection.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging) and a busy
  timeout so that readers in other processes don't block the writer.

USAGE:
  store, err := sqlite.New("./data/hibridge.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/ledger.go: Higher-level ledger using Journal
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"

	"github.com/hibridge/engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
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

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Versioned key-value namespace (user:, team:, balance:, request:, vote:, ...)
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		team_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance replay (hot path for statements and audits)
	CREATE INDEX IF NOT EXISTS idx_transactions_employee_team_date
		ON transactions(employee_id, team_id, effective_at);

	-- For request tracking
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// KV STORE (generic.KV interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, key string) (generic.Record, error) {
	return getRecord(ctx, s.db, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) (generic.Record, error) {
	return setRecord(ctx, s.db, key, value)
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (generic.Record, error) {
	return casRecord(ctx, s.db, key, value, expected)
}

func (s *Store) List(ctx context.Context, prefix string) ([]generic.Record, error) {
	return listRecords(ctx, s.db, prefix)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return deleteRecord(ctx, s.db, key)
}

func getRecord(ctx context.Context, q querier, key string) (generic.Record, error) {
	var (
		rec       = generic.Record{Key: key}
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT value, version, updated_at FROM kv WHERE key = ?", key,
	).Scan(&rec.Value, &rec.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Record{}, generic.ErrNotFound
	}
	if err != nil {
		return generic.Record{}, generic.Persist("get "+key, err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func setRecord(ctx context.Context, q querier, key string, value []byte) (generic.Record, error) {
	now := time.Now().UTC()
	rec := generic.Record{Key: key, Value: value, UpdatedAt: now}

	err := q.QueryRowContext(ctx, `
		INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, key, value, now.Format(time.RFC3339Nano)).Scan(&rec.Version)
	if err != nil {
		return generic.Record{}, generic.Persist("set "+key, err)
	}
	return rec, nil
}

func casRecord(ctx context.Context, q querier, key string, value []byte, expected int64) (generic.Record, error) {
	now := time.Now().UTC()

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = q.ExecContext(ctx, `
			INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, value, now.Format(time.RFC3339Nano))
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE kv SET value = ?, version = version + 1, updated_at = ?
			WHERE key = ? AND version = ?
		`, value, now.Format(time.RFC3339Nano), key, expected)
	}
	if err != nil {
		return generic.Record{}, generic.Persist("cas "+key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return generic.Record{}, generic.Persist("cas "+key, err)
	}
	if n == 0 {
		return generic.Record{}, generic.ErrConcurrentModification
	}

	return generic.Record{Key: key, Value: value, Version: expected + 1, UpdatedAt: now}, nil
}

func listRecords(ctx context.Context, q querier, prefix string) ([]generic.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, value, version, updated_at FROM kv
		WHERE substr(key, 1, ?) = ?
		ORDER BY key
	`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, generic.Persist("list "+prefix, err)
	}
	defer rows.Close()

	var out []generic.Record
	for rows.Next() {
		var (
			rec       generic.Record
			updatedAt string
		)
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version, &updatedAt); err != nil {
			return nil, generic.Persist("list "+prefix, err)
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func deleteRecord(ctx context.Context, q querier, key string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return generic.Persist("delete "+key, err)
}

// =============================================================================
// TRANSACTION STORE (generic.Journal interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, q querier, tx generic.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions
		(id, employee_id, team_id, effective_at, delta_value, delta_unit,
		 tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		tx.ID,
		tx.EmployeeID,
		tx.TeamID,
		tx.EffectiveAt.Time.Format(time.RFC3339),
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		createdAt.Format(time.RFC3339Nano),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return generic.Persist("append transaction", err)
	}

	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	// Check for duplicate idempotency keys within the batch first
	idempotencyKeys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if idempotencyKeys[tx.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			idempotencyKeys[tx.IdempotencyKey] = true
		}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Persist("begin transaction", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}

	return generic.Persist("commit", sqlTx.Commit())
}

// Load returns all transactions for an employee+team.
func (s *Store) Load(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	return loadTxs(ctx, s.db, employeeID, teamID)
}

func loadTxs(ctx context.Context, q querier, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	query := `
		SELECT id, employee_id, team_id, effective_at, delta_value, delta_unit,
		       tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at
		FROM transactions
		WHERE employee_id = ? AND team_id = ?
		ORDER BY effective_at ASC, seq ASC
	`

	rows, err := q.QueryContext(ctx, query, employeeID, teamID)
	if err != nil {
		return nil, generic.Persist("query transactions", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return existsKey(ctx, s.db, idempotencyKey)
}

func existsKey(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, generic.Persist("exists", err)
	}
	return count > 0, nil
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		deltaValue     string
		deltaUnit      string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.EmployeeID, &tx.TeamID,
		&effectiveAt, &deltaValue, &deltaUnit, &tx.Type,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, generic.Persist("scan transaction", err)
	}

	t, err := time.Parse(time.RFC3339, effectiveAt)
	if err != nil {
		return tx, generic.Persist("scan transaction "+string(tx.ID), err)
	}
	tx.EffectiveAt = generic.DateOf(t)
	if tx.Delta, err = generic.ParseAmount(deltaValue, deltaUnit); err != nil {
		return tx, generic.Persist("scan transaction "+string(tx.ID), err)
	}
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
	}

	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Persist("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return generic.Persist("commit", sqlTx.Commit())
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, key string) (generic.Record, error) {
	return getRecord(ctx, ts.tx, key)
}

func (ts *txStore) Set(ctx context.Context, key string, value []byte) (generic.Record, error) {
	return setRecord(ctx, ts.tx, key, value)
}

func (ts *txStore) CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (generic.Record, error) {
	return casRecord(ctx, ts.tx, key, value, expected)
}

func (ts *txStore) List(ctx context.Context, prefix string) ([]generic.Record, error) {
	return listRecords(ctx, ts.tx, prefix)
}

func (ts *txStore) Delete(ctx context.Context, key string) error {
	return deleteRecord(ctx, ts.tx, key)
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	for _, tx := range txs {
		if err := appendTx(ctx, ts.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Load(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	return loadTxs(ctx, ts.tx, employeeID, teamID)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return existsKey(ctx, ts.tx, idempotencyKey)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"transactions", "kv"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return generic.Persist("reset "+table, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*txStore)(nil)
)
