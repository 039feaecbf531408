/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the audit trail for every remote-day balance change. Each
  accrual, streak bonus, approved redemption and manual adjustment is
  recorded here. The balance record is the fast path; the ledger explains
  how it got there.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)
  3. CONSISTENT: Sum of deltas for (employee, team) equals Balance.Current

SEE ALSO:
  - store.go: Journal persistence interface
  - rewards/service.go: Writes ledger entries alongside balance updates
*/
package generic

import "context"

// DefaultLedger is the source of truth for the history of balance changes.
type DefaultLedger struct {
	Store Journal
}

func NewLedger(store Journal) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, employeeID EmployeeID, teamID TeamID) ([]Transaction, error) {
	return l.Store.Load(ctx, employeeID, teamID)
}

// BalanceAt replays transactions effective on or before at. A journal may
// return entries in append order, so every entry is checked.
func (l *DefaultLedger) BalanceAt(ctx context.Context, employeeID EmployeeID, teamID TeamID, at TimePoint) (Amount, error) {
	txs, err := l.Store.Load(ctx, employeeID, teamID)
	if err != nil {
		return Amount{}, err
	}

	balance := ZeroDays()
	for _, tx := range txs {
		if tx.EffectiveAt.After(at) {
			continue
		}
		balance = balance.Add(tx.Delta)
	}
	return balance, nil
}
