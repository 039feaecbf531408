/*
Package generic provides the domain-agnostic core of the Hi-Bridge engine.

PURPOSE:
  Types and ports shared by every domain package. Whether the engine is
  tracking remote-day rewards, office-day votes or check-ins, the same
  primitives are used for quantities, dates, identities, persistence and
  the audit ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 1.5 remote days)
  - Transaction: An immutable ledger entry recording a balance change
  - EmployeeID / TeamID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, half days never drift
  2. Type Safety: Strong typing prevents mixing employee/team IDs
  3. Auditability: Every balance change has reason, reference and idempotency key

USAGE:
  amount := generic.NewAmount(1.5, generic.UnitDays)
  if !amount.IsHalfStep() {
      return generic.NewValidationError("days_requested", "must be a multiple of 0.5")
  }

SEE ALSO:
  - time.go: TimePoint and business-day helpers
  - store.go: Persistence ports (KV, Store, TxStore)
  - ledger.go: Audit ledger over Store
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

type Unit string

const (
	UnitDays Unit = "days"
)

var half = decimal.NewFromFloat(0.5)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Days is shorthand for an amount of remote days.
func Days(value float64) Amount { return NewAmount(value, UnitDays) }

// ZeroDays is an empty balance amount.
func ZeroDays() Amount { return Amount{Value: decimal.Zero, Unit: UnitDays} }

// ParseAmount reads a stored amount. A malformed value is an error, never zero.
func ParseAmount(value, unit string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return Amount{Value: d, Unit: Unit(unit)}, nil
}

func (a Amount) Zero() Amount                  { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount           { return Amount{Value: a.Value.Add(b.Value), Unit: a.unit(b)} }
func (a Amount) Sub(b Amount) Amount           { return Amount{Value: a.Value.Sub(b.Value), Unit: a.unit(b)} }
func (a Amount) Neg() Amount                   { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool              { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                  { return a.Value.IsZero() }
func (a Amount) IsPositive() bool              { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool           { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool     { return a.Value.GreaterThan(b.Value) }

// IsHalfStep reports whether the amount is a whole multiple of 0.5.
func (a Amount) IsHalfStep() bool {
	return a.Value.Mod(half).IsZero()
}

func (a Amount) String() string {
	return a.Value.String() + " " + string(a.Unit)
}

// unit keeps the unit of whichever side has one; zero-value amounts carry none.
func (a Amount) unit(b Amount) Unit {
	if a.Unit != "" {
		return a.Unit
	}
	return b.Unit
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type TeamID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to a remote-day balance
// =============================================================================

type TransactionType string

const (
	TxGrant       TransactionType = "grant"       // Accrual earned from office attendance
	TxBonus       TransactionType = "bonus"       // Streak bonus
	TxConsumption TransactionType = "consumption" // Approved remote-day request
	TxAdjustment  TransactionType = "adjustment"  // Manual admin correction
)

type Transaction struct {
	ID             TransactionID     `json:"id"`
	EmployeeID     EmployeeID        `json:"employee_id"`
	TeamID         TeamID            `json:"team_id"`
	EffectiveAt    TimePoint         `json:"effective_at"`
	Delta          Amount            `json:"delta"`
	Type           TransactionType   `json:"type"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Audit fields
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SumDeltas folds a list of transactions into a net amount.
func SumDeltas(txs []Transaction) Amount {
	total := ZeroDays()
	for _, tx := range txs {
		total = total.Add(tx.Delta)
	}
	return total
}
