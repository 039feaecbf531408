package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/generic/store"
)

func TestMemory_CompareAndSwap(t *testing.T) {
	m := store.NewTxMemory()
	ctx := context.Background()

	rec, err := m.CompareAndSwap(ctx, "request:r1", []byte("a"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	_, err = m.CompareAndSwap(ctx, "request:r1", []byte("b"), 0)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	rec, err = m.CompareAndSwap(ctx, "request:r1", []byte("b"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
}

func TestMemory_ConcurrentCAS_OneWinner(t *testing.T) {
	// GIVEN: Ten writers holding the same version
	// WHEN: All try to swap at once
	// THEN: Exactly one succeeds

	m := store.NewTxMemory()
	ctx := context.Background()
	_, err := m.Set(ctx, "balance:t1:e1", []byte("0"))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CompareAndSwap(ctx, "balance:t1:e1", []byte("x"), 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemory_WithTx_Rollback(t *testing.T) {
	m := store.NewTxMemory()
	ctx := context.Background()
	_, err := m.Set(ctx, "team:t1", []byte("before"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(tx generic.Store) error {
		if _, err := tx.Set(ctx, "team:t1", []byte("after")); err != nil {
			return err
		}
		if err := tx.Append(ctx, generic.Transaction{
			ID: "tx-1", EmployeeID: "e1", TeamID: "t1",
			EffectiveAt:    generic.NewTimePoint(2025, time.March, 10),
			Delta:          generic.Days(1),
			Type:           generic.TxGrant,
			IdempotencyKey: "k1",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := m.Get(ctx, "team:t1")
	require.NoError(t, err)
	assert.Equal(t, "before", string(rec.Value))
	exists, err := m.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_ListPrefixSorted(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	for _, k := range []string{"vote:t1:2025-03-10:c", "vote:t1:2025-03-10:a", "vote:t1:2025-03-17:b"} {
		_, err := m.Set(ctx, k, []byte("{}"))
		require.NoError(t, err)
	}

	recs, err := m.List(ctx, "vote:t1:2025-03-10:")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "vote:t1:2025-03-10:a", recs[0].Key)
	assert.Equal(t, "vote:t1:2025-03-10:c", recs[1].Key)
}
