/*
service.go - Balance Store and attendance recording

PURPOSE:
  Service owns every write to balance:<team>:<employee> and the ledger.
  It combines the pure Accrue() with persistence:

    RecordAttendance(event)
      ├── policy   := PolicySource.TeamPolicy(team)
      ├── lock     balance:<team>:<employee>        (in-process)
      └── retry on ErrConcurrentModification        (cross-process)
            └── WithTx
                  ├── load balance (missing = zero balance, version 0)
                  ├── Accrue()
                  ├── CompareAndSwap(balance, version)
                  └── ledger.AppendBatch(grant, bonus)

CONCURRENCY:
  The KeyedMutex is shared with the request workflow, so an approval and
  an accrual for the same balance never interleave inside one process.
  Across processes the record version catches the race and the loser
  retries with exponential backoff.

SEE ALSO:
  - accrual.go: Accrue()
  - request.go: Redemption workflow on the same Service
  - generic/ledger.go: Audit ledger
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
)

// PolicySource resolves the current policy of a team.
type PolicySource interface {
	TeamPolicy(ctx context.Context, teamID generic.TeamID) (TeamPolicy, error)
}

// StaticPolicies is a fixed PolicySource, used by tests and scenarios.
type StaticPolicies map[generic.TeamID]TeamPolicy

func (s StaticPolicies) TeamPolicy(_ context.Context, teamID generic.TeamID) (TeamPolicy, error) {
	p, ok := s[teamID]
	if !ok {
		return TeamPolicy{}, fmt.Errorf("team %s: %w", teamID, generic.ErrNotFound)
	}
	return p, nil
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store      generic.TxStore
	policies   PolicySource
	locks      *generic.KeyedMutex
	notifier   notify.Notifier
	highLimit  HighLimitRule
	authorizer Authorizer
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option      { return func(s *Service) { s.notifier = n } }
func WithAuthorizer(a Authorizer) Option         { return func(s *Service) { s.authorizer = a } }
func WithClock(now func() time.Time) Option      { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option           { return func(s *Service) { s.logger = l } }
func WithLocks(locks *generic.KeyedMutex) Option { return func(s *Service) { s.locks = locks } }

func NewService(store generic.TxStore, policies PolicySource, opts ...Option) *Service {
	s := &Service{
		store:      store,
		policies:   policies,
		locks:      generic.NewKeyedMutex(),
		notifier:   notify.Discard{},
		highLimit:  ThresholdRule{},
		authorizer: RoleAuthorizer{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "rewards")
	return s
}

// =============================================================================
// BALANCE STORE
// =============================================================================

// GetBalance returns the stored balance or ErrNotFound.
func (s *Service) GetBalance(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) (Balance, error) {
	return loadBalance(ctx, s.store, employeeID, teamID)
}

// UpsertBalance writes b with compare-and-swap on b.Version (0 = create).
func (s *Service) UpsertBalance(ctx context.Context, b Balance) (Balance, error) {
	if !b.Consistent() {
		return b, generic.NewValidationError("current", "must equal total_earned - total_used")
	}
	unlock := s.locks.Lock(BalanceKey(b.TeamID, b.EmployeeID))
	defer unlock()
	return s.saveBalance(ctx, s.store, b)
}

// EnsureBalance creates a zero balance if none exists and returns the stored one.
func (s *Service) EnsureBalance(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) (Balance, error) {
	b, err := loadBalance(ctx, s.store, employeeID, teamID)
	if err == nil || !generic.IsNotFound(err) {
		return b, err
	}
	b, err = s.saveBalance(ctx, s.store, NewBalance(employeeID, teamID))
	if errors.Is(err, generic.ErrConcurrentModification) {
		// Created concurrently by someone else.
		return loadBalance(ctx, s.store, employeeID, teamID)
	}
	return b, err
}

// ListBalances returns every balance held in a team, ordered by employee.
func (s *Service) ListBalances(ctx context.Context, teamID generic.TeamID) ([]Balance, error) {
	out, err := generic.ListJSON[Balance](ctx, s.store, fmt.Sprintf("balance:%s:", teamID))
	return out, generic.Persist("list balances", err)
}

// Transactions returns the ledger entries of one balance.
func (s *Service) Transactions(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) ([]generic.Transaction, error) {
	txs, err := generic.NewLedger(s.store).Transactions(ctx, employeeID, teamID)
	return txs, generic.Persist("load transactions", err)
}

// BalanceAt replays the ledger up to and including at.
func (s *Service) BalanceAt(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, at generic.TimePoint) (generic.Amount, error) {
	a, err := generic.NewLedger(s.store).BalanceAt(ctx, employeeID, teamID, at)
	return a, generic.Persist("replay ledger", err)
}

func (s *Service) saveBalance(ctx context.Context, kv generic.KV, b Balance) (Balance, error) {
	b.UpdatedAt = s.now().UTC()
	v, err := generic.PutJSON(ctx, kv, BalanceKey(b.TeamID, b.EmployeeID), b, b.Version)
	if err != nil {
		return b, generic.Persist("save balance", err)
	}
	b.Version = v
	return b, nil
}

func loadBalance(ctx context.Context, kv generic.KV, employeeID generic.EmployeeID, teamID generic.TeamID) (Balance, error) {
	var b Balance
	v, err := generic.GetJSON(ctx, kv, BalanceKey(teamID, employeeID), &b)
	if err != nil {
		if generic.IsNotFound(err) {
			return Balance{}, fmt.Errorf("balance %s/%s: %w", teamID, employeeID, generic.ErrNotFound)
		}
		return Balance{}, generic.Persist("load balance", err)
	}
	b.Version = v
	return b, nil
}

// loadOrZero treats a missing balance as a new zero balance at version 0.
func loadOrZero(ctx context.Context, kv generic.KV, employeeID generic.EmployeeID, teamID generic.TeamID) (Balance, error) {
	b, err := loadBalance(ctx, kv, employeeID, teamID)
	if generic.IsNotFound(err) {
		return NewBalance(employeeID, teamID), nil
	}
	return b, err
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// RecordAttendance applies one attendance event to the employee's balance.
// Duplicate and weekend events return the unchanged balance without error.
func (s *Service) RecordAttendance(ctx context.Context, ev AttendanceEvent) (Balance, AccrualOutcome, error) {
	if err := ev.Validate(); err != nil {
		return Balance{}, AccrualOutcome{}, err
	}
	policy, err := s.policies.TeamPolicy(ctx, ev.TeamID)
	if err != nil {
		return Balance{}, AccrualOutcome{}, err
	}

	unlock := s.locks.Lock(BalanceKey(ev.TeamID, ev.EmployeeID))
	defer unlock()

	var (
		result  Balance
		outcome AccrualOutcome
	)
	err = generic.RetryOnConflict(ctx, func() error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			cur, err := loadOrZero(ctx, tx, ev.EmployeeID, ev.TeamID)
			if err != nil {
				return err
			}
			next, out, err := Accrue(cur, policy, ev)
			if err != nil {
				return err
			}
			result, outcome = next, out
			if !out.Changed {
				return nil
			}
			if result, err = s.saveBalance(ctx, tx, next); err != nil {
				return err
			}
			if txs := s.accrualTransactions(ev, out); len(txs) > 0 {
				if err := generic.NewLedger(tx).AppendBatch(ctx, txs); err != nil {
					return generic.Persist("append accrual", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return Balance{}, AccrualOutcome{}, err
	}

	if total := outcome.Total(); total.IsPositive() {
		s.logger.Info("remote days earned",
			"employee_id", ev.EmployeeID, "team_id", ev.TeamID,
			"date", ev.Date.String(), "days", total.Value.String(), "current", result.Current.Value.String())
		s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindRemoteDayEarned,
			EmployeeID: ev.EmployeeID,
			TeamID:     ev.TeamID,
			Success:    true,
			Message:    fmt.Sprintf("You earned %s remote day(s): %s", total.Value, outcome.Reason),
		})
	}
	return result, outcome, nil
}

func (s *Service) accrualTransactions(ev AttendanceEvent, out AccrualOutcome) []generic.Transaction {
	var txs []generic.Transaction
	meta := map[string]string{"work_type": string(ev.WorkType)}
	if ev.Source != "" {
		meta["source"] = ev.Source
	}
	if out.Earned.IsPositive() {
		txs = append(txs, generic.Transaction{
			ID:             generic.TransactionID(uuid.NewString()),
			EmployeeID:     ev.EmployeeID,
			TeamID:         ev.TeamID,
			EffectiveAt:    ev.Date,
			Delta:          out.Earned,
			Type:           generic.TxGrant,
			Reason:         out.Reason,
			IdempotencyKey: fmt.Sprintf("accrual:%s:%s:%s", ev.TeamID, ev.EmployeeID, ev.Date),
			Metadata:       meta,
			CreatedBy:      string(ev.EmployeeID),
		})
	}
	if out.Bonus.IsPositive() {
		txs = append(txs, generic.Transaction{
			ID:             generic.TransactionID(uuid.NewString()),
			EmployeeID:     ev.EmployeeID,
			TeamID:         ev.TeamID,
			EffectiveAt:    ev.Date,
			Delta:          out.Bonus,
			Type:           generic.TxBonus,
			Reason:         out.Reason,
			IdempotencyKey: fmt.Sprintf("bonus:%s:%s:%s", ev.TeamID, ev.EmployeeID, ev.Date),
			Metadata:       meta,
			CreatedBy:      string(ev.EmployeeID),
		})
	}
	return txs
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// Adjust applies a manual correction. Positive deltas are earned, negative
// deltas are used and may not take Current below zero. Nobody adjusts
// their own balance.
func (s *Service) Adjust(ctx context.Context, actor Actor, employeeID generic.EmployeeID, teamID generic.TeamID, delta generic.Amount, reason string) (Balance, error) {
	if actor.ID == employeeID {
		return Balance{}, fmt.Errorf("%w: cannot adjust your own balance", generic.ErrForbidden)
	}
	delta.Unit = generic.UnitDays
	if delta.IsZero() || !delta.IsHalfStep() {
		return Balance{}, generic.NewValidationError("delta", "must be a non-zero multiple of 0.5")
	}
	if reason == "" {
		return Balance{}, generic.NewValidationError("reason", "is required")
	}

	unlock := s.locks.Lock(BalanceKey(teamID, employeeID))
	defer unlock()

	var result Balance
	err := generic.RetryOnConflict(ctx, func() error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			b, err := loadOrZero(ctx, tx, employeeID, teamID)
			if err != nil {
				return err
			}
			if delta.IsPositive() {
				b.earn(delta)
			} else {
				if delta.Neg().GreaterThan(b.Current) {
					return &generic.InsufficientBalanceError{
						EmployeeID: employeeID, TeamID: teamID,
						Available: b.Current, Requested: delta.Neg(),
					}
				}
				b.consume(delta.Neg())
			}
			if result, err = s.saveBalance(ctx, tx, b); err != nil {
				return err
			}
			err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
				ID:             generic.TransactionID(uuid.NewString()),
				EmployeeID:     employeeID,
				TeamID:         teamID,
				EffectiveAt:    generic.DateOf(s.now()),
				Delta:          delta,
				Type:           generic.TxAdjustment,
				Reason:         reason,
				IdempotencyKey: "adjust:" + uuid.NewString(),
				CreatedBy:      string(actor.ID),
			})
			return generic.Persist("append adjustment", err)
		})
	})
	return result, err
}
