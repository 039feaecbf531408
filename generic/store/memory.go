// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hibridge/engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	records      map[string]generic.Record
	transactions map[key][]generic.Transaction
	idempotency  map[string]bool
}

type key struct {
	EmployeeID generic.EmployeeID
	TeamID     generic.TeamID
}

func NewMemory() *Memory {
	return &Memory{
		records:      make(map[string]generic.Record),
		transactions: make(map[key][]generic.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// -----------------------------------------------------------------------------
// KV
// -----------------------------------------------------------------------------

func (m *Memory) Get(_ context.Context, k string) (generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(k)
}

func (m *Memory) Set(_ context.Context, k string, value []byte) (generic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(k, value), nil
}

func (m *Memory) CompareAndSwap(_ context.Context, k string, value []byte, expected int64) (generic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(k, value, expected)
}

func (m *Memory) List(_ context.Context, prefix string) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(prefix), nil
}

func (m *Memory) Delete(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, k)
	return nil
}

func (m *Memory) getLocked(k string) (generic.Record, error) {
	rec, ok := m.records[k]
	if !ok {
		return generic.Record{}, generic.ErrNotFound
	}
	rec.Value = append([]byte(nil), rec.Value...)
	return rec, nil
}

func (m *Memory) setLocked(k string, value []byte) generic.Record {
	rec := generic.Record{
		Key:       k,
		Value:     append([]byte(nil), value...),
		Version:   m.records[k].Version + 1,
		UpdatedAt: time.Now().UTC(),
	}
	m.records[k] = rec
	return rec
}

func (m *Memory) casLocked(k string, value []byte, expected int64) (generic.Record, error) {
	if m.records[k].Version != expected {
		return generic.Record{}, generic.ErrConcurrentModification
	}
	return m.setLocked(k, value), nil
}

func (m *Memory) listLocked(prefix string) []generic.Record {
	var out []generic.Record
	for k, rec := range m.records {
		if strings.HasPrefix(k, prefix) {
			rec.Value = append([]byte(nil), rec.Value...)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// -----------------------------------------------------------------------------
// JOURNAL
// -----------------------------------------------------------------------------

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(txs)
}

func (m *Memory) appendBatchLocked(txs []generic.Transaction) error {
	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx generic.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	k := key{EmployeeID: tx.EmployeeID, TeamID: tx.TeamID}
	txs := m.transactions[k]

	// Binary search keeps the slice ordered by EffectiveAt, stable for equal dates
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})

	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(employeeID, teamID), nil
}

func (m *Memory) loadLocked(employeeID generic.EmployeeID, teamID generic.TeamID) []generic.Transaction {
	k := key{EmployeeID: employeeID, TeamID: teamID}
	result := make([]generic.Transaction, len(m.transactions[k]))
	copy(result, m.transactions[k])
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]generic.Record)
	m.transactions = make(map[key][]generic.Transaction)
	m.idempotency = make(map[string]bool)
	return nil
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

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// fn must only use the Store it is given; the parent is locked for the duration.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	recs := make(map[string]generic.Record, len(tm.records))
	for k, v := range tm.records {
		recs[k] = v
	}
	txsCopy := make(map[key][]generic.Transaction, len(tm.transactions))
	for k, v := range tm.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idempCopy[k] = v
	}
	return memorySnapshot{records: recs, transactions: txsCopy, idempotency: idempCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.records = s.records
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
}

type memorySnapshot struct {
	records      map[string]generic.Record
	transactions map[key][]generic.Transaction
	idempotency  map[string]bool
}

// txMemoryView operates on the parent's maps without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Get(_ context.Context, k string) (generic.Record, error) {
	return tv.parent.getLocked(k)
}

func (tv *txMemoryView) Set(_ context.Context, k string, value []byte) (generic.Record, error) {
	return tv.parent.setLocked(k, value), nil
}

func (tv *txMemoryView) CompareAndSwap(_ context.Context, k string, value []byte, expected int64) (generic.Record, error) {
	return tv.parent.casLocked(k, value, expected)
}

func (tv *txMemoryView) List(_ context.Context, prefix string) ([]generic.Record, error) {
	return tv.parent.listLocked(prefix), nil
}

func (tv *txMemoryView) Delete(_ context.Context, k string) error {
	delete(tv.parent.records, k)
	return nil
}

func (tv *txMemoryView) Append(_ context.Context, tx generic.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	return tv.parent.appendBatchLocked(txs)
}

func (tv *txMemoryView) Load(_ context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	return tv.parent.loadLocked(employeeID, teamID), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

var (
	_ generic.TxStore = (*TxMemory)(nil)
	_ generic.Store   = (*txMemoryView)(nil)
)
