/*
store.go - Persistence ports

PURPOSE:
  Defines the interface between the domain logic and the database. The
  engine persists everything in a flat key-value namespace keyed by string
  prefixes (user:<email>, team:<id>, balance:<team>:<employee>, ...) plus an
  append-only ledger of balance transactions.

KEY INTERFACES:
  KV:      Versioned get / set / compare-and-swap / prefix listing
  Journal: Append-only ledger persistence (append, load, exists)
  Store:   KV + Journal
  TxStore: Store with atomic multi-write transactions

OPTIMISTIC CONCURRENCY:
  Every KV record carries a Version. CompareAndSwap(key, value, v) only
  writes when the stored version equals v (0 = key must not exist) and
  returns ErrConcurrentModification otherwise. Balance, request and vote
  set mutations always go through CompareAndSwap.

ATOMIC WRITES:
  Approving a request touches the request record, the balance record and
  the ledger. WithTx() ensures all-or-nothing semantics.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and dev
  - store/sqlite: SQLite (default)
  - store/postgres: PostgreSQL via pgx

SEE ALSO:
  - ledger.go: Higher-level ledger using Journal
  - keylock.go: In-process per-key serialization
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// KV - Versioned key-value namespace
// =============================================================================

// Record is a stored value with its optimistic-concurrency version.
type Record struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

type KV interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Set writes unconditionally (upsert) and bumps the version.
	Set(ctx context.Context, key string, value []byte) (Record, error)

	// CompareAndSwap writes only if the stored version equals expected.
	// expected == 0 means the key must not exist yet.
	CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (Record, error)

	// List returns all records whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Record, error)

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// =============================================================================
// JOURNAL - Append-only ledger persistence
// =============================================================================

// Journal handles persistence of ledger transactions.
// IMPORTANT: append-only. Corrections are new transactions.
type Journal interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for employee+team, ordered by EffectiveAt.
	Load(ctx context.Context, employeeID EmployeeID, teamID TeamID) ([]Transaction, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// Store is the full persistence port.
type Store interface {
	KV
	Journal
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close() error
}
