/*
Package postgres provides a PostgreSQL-backed generic.TxStore over pgx.

PURPOSE:
  Same contract as store/sqlite, for deployments on a managed database.
  Selected by cmd/server when DATABASE_URL is a postgres:// URL.

KEY TABLES:
  hb_kv:           key TEXT PRIMARY KEY, value BYTEA, version BIGINT
  hb_transactions: Immutable ledger of all balance changes

CONCURRENCY:
  CompareAndSwap is one conditional statement, so concurrent writers on
  different nodes are arbitrated by the database. WithTx runs fn inside a
  pgx.Tx; the pool serves other callers meanwhile.

SEE ALSO:
  - store/sqlite: Default single-node implementation
  - generic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hibridge/engine/generic"
)

const uniqueViolation = "23505"

// Store implements generic.TxStore using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS hb_kv (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS hb_transactions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		team_id TEXT NOT NULL,
		effective_at DATE NOT NULL,
		delta_value NUMERIC NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json JSONB,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_hb_transactions_employee_team_date
		ON hb_transactions(employee_id, team_id, effective_at);
	`)
	return err
}

// =============================================================================
// KV STORE
// =============================================================================

func (s *Store) Get(ctx context.Context, key string) (generic.Record, error) {
	return getRecord(ctx, s.pool, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) (generic.Record, error) {
	return setRecord(ctx, s.pool, key, value)
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (generic.Record, error) {
	return casRecord(ctx, s.pool, key, value, expected)
}

func (s *Store) List(ctx context.Context, prefix string) ([]generic.Record, error) {
	return listRecords(ctx, s.pool, prefix)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM hb_kv WHERE key = $1`, key)
	return generic.Persist("delete "+key, err)
}

func getRecord(ctx context.Context, q querier, key string) (generic.Record, error) {
	rec := generic.Record{Key: key}
	err := q.QueryRow(ctx,
		`SELECT value, version, updated_at FROM hb_kv WHERE key = $1`, key,
	).Scan(&rec.Value, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Record{}, generic.ErrNotFound
	}
	if err != nil {
		return generic.Record{}, generic.Persist("get "+key, err)
	}
	return rec, nil
}

func setRecord(ctx context.Context, q querier, key string, value []byte) (generic.Record, error) {
	rec := generic.Record{Key: key, Value: value}
	err := q.QueryRow(ctx, `
		INSERT INTO hb_kv (key, value, version, updated_at) VALUES ($1, $2, 1, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			version = hb_kv.version + 1,
			updated_at = now()
		RETURNING version, updated_at
	`, key, value).Scan(&rec.Version, &rec.UpdatedAt)
	if err != nil {
		return generic.Record{}, generic.Persist("set "+key, err)
	}
	return rec, nil
}

func casRecord(ctx context.Context, q querier, key string, value []byte, expected int64) (generic.Record, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == 0 {
		tag, err = q.Exec(ctx, `
			INSERT INTO hb_kv (key, value, version, updated_at) VALUES ($1, $2, 1, now())
			ON CONFLICT (key) DO NOTHING
		`, key, value)
	} else {
		tag, err = q.Exec(ctx, `
			UPDATE hb_kv SET value = $2, version = version + 1, updated_at = now()
			WHERE key = $1 AND version = $3
		`, key, value, expected)
	}
	if err != nil {
		return generic.Record{}, generic.Persist("cas "+key, err)
	}
	if tag.RowsAffected() == 0 {
		return generic.Record{}, generic.ErrConcurrentModification
	}
	return generic.Record{Key: key, Value: value, Version: expected + 1, UpdatedAt: time.Now().UTC()}, nil
}

func listRecords(ctx context.Context, q querier, prefix string) ([]generic.Record, error) {
	rows, err := q.Query(ctx, `
		SELECT key, value, version, updated_at FROM hb_kv
		WHERE starts_with(key, $1)
		ORDER BY key
	`, prefix)
	if err != nil {
		return nil, generic.Persist("list "+prefix, err)
	}
	defer rows.Close()

	var out []generic.Record
	for rows.Next() {
		var rec generic.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, generic.Persist("list "+prefix, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// JOURNAL
// =============================================================================

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, s.pool, tx)
}

func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return s.WithTx(ctx, func(st generic.Store) error {
		for _, tx := range txs {
			if err := st.Append(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	return loadTxs(ctx, s.pool, employeeID, teamID)
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return existsKey(ctx, s.pool, idempotencyKey)
}

func appendTx(ctx context.Context, q querier, tx generic.Transaction) error {
	var metadata []byte
	if len(tx.Metadata) > 0 {
		metadata, _ = json.Marshal(tx.Metadata)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO hb_transactions
		(id, employee_id, team_id, effective_at, delta_value, delta_unit,
		 tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		string(tx.ID), string(tx.EmployeeID), string(tx.TeamID),
		tx.EffectiveAt.Time, tx.Delta.Value, string(tx.Delta.Unit),
		string(tx.Type), nullable(tx.ReferenceID), nullable(tx.Reason),
		nullable(tx.IdempotencyKey), metadata, nullable(tx.CreatedBy), createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return generic.ErrDuplicateIdempotencyKey
		}
		return generic.Persist("append transaction", err)
	}
	return nil
}

func loadTxs(ctx context.Context, q querier, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, employee_id, team_id, effective_at, delta_value::text, delta_unit,
		       tx_type, COALESCE(reference_id, ''), COALESCE(reason, ''),
		       COALESCE(idempotency_key, ''), metadata_json, COALESCE(created_by, ''), created_at
		FROM hb_transactions
		WHERE employee_id = $1 AND team_id = $2
		ORDER BY effective_at ASC, seq ASC
	`, string(employeeID), string(teamID))
	if err != nil {
		return nil, generic.Persist("query transactions", err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		var (
			tx          generic.Transaction
			effectiveAt time.Time
			deltaValue  string
			deltaUnit   string
			metadata    []byte
		)
		if err := rows.Scan(
			&tx.ID, &tx.EmployeeID, &tx.TeamID, &effectiveAt, &deltaValue, &deltaUnit,
			&tx.Type, &tx.ReferenceID, &tx.Reason, &tx.IdempotencyKey, &metadata, &tx.CreatedBy, &tx.CreatedAt,
		); err != nil {
			return nil, generic.Persist("scan transaction", err)
		}
		tx.EffectiveAt = generic.DateOf(effectiveAt)
		delta, err := generic.ParseAmount(deltaValue, deltaUnit)
		if err != nil {
			return nil, generic.Persist("scan transaction "+string(tx.ID), err)
		}
		tx.Delta = delta
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &tx.Metadata)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func existsKey(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM hb_transactions WHERE idempotency_key = $1)`, idempotencyKey,
	).Scan(&exists)
	if err != nil {
		return false, generic.Persist("exists", err)
	}
	return exists, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return generic.Persist("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return generic.Persist("commit", tx.Commit(ctx))
}

type txStore struct {
	tx pgx.Tx
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
	_, err := ts.tx.Exec(ctx, `DELETE FROM hb_kv WHERE key = $1`, key)
	return generic.Persist("delete "+key, err)
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

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE hb_transactions, hb_kv`)
	return generic.Persist("reset", err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*txStore)(nil)
)
