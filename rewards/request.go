/*
request.go - Remote-day redemption workflow

PURPOSE:
  A Request asks to spend remote days from a balance. It is a small state
  machine; only pending requests can move:

    pending ──approve──> approved    (balance deducted, ledger consume:<id>)
       │
       ├────reject───> rejected     (no balance change)
       └────cancel───> cancelled    (requester only, no balance change)

  approved, rejected and cancelled are terminal. Any action on a terminal
  request returns *generic.InvalidTransitionError.

VALIDATION AT CREATE:
  - DaysRequested > 0 and a multiple of 0.5
  - DaysRequested <= Balance.Current (nothing is held while pending)
  - RequiresHighLimitApproval decided by the injected HighLimitRule

VALIDATION AT APPROVE:
  The balance is re-read inside the transaction. Two pending requests
  that together exceed the balance cannot both be approved.

AUTHORIZATION:
  Who may approve or reject is an injected Authorizer. RoleAuthorizer is
  the default: requests.approve for ordinary requests, plus
  requests.approve_high_limit for flagged ones, never your own request.

SEE ALSO:
  - service.go: Service, balance persistence
  - auth/permissions.go: Permission table used by RoleAuthorizer
*/
package rewards

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
)

// =============================================================================
// INJECTED RULES
// =============================================================================

// HighLimitRule decides whether a new request needs high-limit approval.
// sameWeek holds the employee's other pending and approved requests in the
// same team and week as req.
type HighLimitRule interface {
	RequiresHighLimit(p TeamPolicy, req Request, sameWeek []Request) bool
}

// ThresholdRule flags requests above HighLimitDays, or whose week total
// would exceed WeeklyHighLimitDays. A zero threshold disables that check.
type ThresholdRule struct{}

func (ThresholdRule) RequiresHighLimit(p TeamPolicy, req Request, sameWeek []Request) bool {
	if p.HighLimitDays.IsPositive() && req.DaysRequested.Value.GreaterThan(p.HighLimitDays) {
		return true
	}
	if !p.WeeklyHighLimitDays.IsPositive() {
		return false
	}
	total := req.DaysRequested
	for _, r := range sameWeek {
		total = total.Add(r.DaysRequested)
	}
	return total.Value.GreaterThan(p.WeeklyHighLimitDays)
}

// Authorizer decides whether actor may approve or reject req.
type Authorizer interface {
	CanDecide(actor Actor, req Request) error
}

// RoleAuthorizer grants decisions from the role permission table.
type RoleAuthorizer struct{}

func (RoleAuthorizer) CanDecide(actor Actor, req Request) error {
	if actor.ID == req.EmployeeID {
		return fmt.Errorf("%w: cannot decide your own request", generic.ErrForbidden)
	}
	if err := auth.Require(actor.Role, auth.PermRequestsApprove); err != nil {
		return err
	}
	if req.RequiresHighLimitApproval {
		return auth.Require(actor.Role, auth.PermApproveHighLimit)
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRequest files a pending request for actor in teamID.
func (s *Service) CreateRequest(ctx context.Context, actor Actor, teamID generic.TeamID, date generic.TimePoint, days generic.Amount, reason string) (Request, error) {
	days.Unit = generic.UnitDays
	if teamID == "" {
		return Request{}, generic.NewValidationError("team_id", "is required")
	}
	if date.IsZero() {
		return Request{}, generic.NewValidationError("date", "is required")
	}
	if !days.IsPositive() || !days.IsHalfStep() {
		return Request{}, generic.NewValidationError("days_requested", "must be positive and a multiple of 0.5")
	}
	policy, err := s.policies.TeamPolicy(ctx, teamID)
	if err != nil {
		return Request{}, err
	}

	balance, err := loadOrZero(ctx, s.store, actor.ID, teamID)
	if err != nil {
		return Request{}, err
	}
	if days.GreaterThan(balance.Current) {
		return Request{}, &generic.InsufficientBalanceError{
			EmployeeID: actor.ID, TeamID: teamID,
			Available: balance.Current, Requested: days,
		}
	}

	sameWeek, err := s.listRequests(ctx, func(r Request) bool {
		return r.TeamID == teamID && r.EmployeeID == actor.ID &&
			(r.Status == StatusPending || r.Status == StatusApproved) &&
			r.Date.SameWeek(date)
	})
	if err != nil {
		return Request{}, err
	}

	req := Request{
		ID:            uuid.NewString(),
		EmployeeID:    actor.ID,
		TeamID:        teamID,
		Date:          date,
		DaysRequested: days,
		Reason:        strings.TrimSpace(reason),
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	req.RequiresHighLimitApproval = s.highLimit.RequiresHighLimit(policy, req, sameWeek)

	v, err := generic.PutJSON(ctx, s.store, RequestKey(req.ID), req, 0)
	if err != nil {
		return Request{}, generic.Persist("save request", err)
	}
	req.Version = v

	s.logger.Info("request created", "request_id", req.ID, "employee_id", req.EmployeeID,
		"team_id", req.TeamID, "days", days.Value.String(), "high_limit", req.RequiresHighLimitApproval)
	s.notifier.Notify(ctx, notify.Event{
		Kind: notify.KindRequestCreated, EmployeeID: req.EmployeeID, TeamID: req.TeamID, Success: true,
		Message: fmt.Sprintf("Request for %s remote day(s) on %s is pending", days.Value, date),
	})
	return req, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve deducts the request from the balance and marks it approved.
func (s *Service) Approve(ctx context.Context, actor Actor, id string) (Request, error) {
	peek, err := s.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	unlock := s.locks.LockAll(RequestKey(id), BalanceKey(peek.TeamID, peek.EmployeeID))
	defer unlock()

	var result Request
	err = generic.RetryOnConflict(ctx, func() error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			req, err := loadRequest(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := s.authorizer.CanDecide(actor, req); err != nil {
				return err
			}
			if req.Status != StatusPending {
				return &generic.InvalidTransitionError{Subject: "request", From: string(req.Status), Action: "approve"}
			}

			balance, err := loadOrZero(ctx, tx, req.EmployeeID, req.TeamID)
			if err != nil {
				return err
			}
			if req.DaysRequested.GreaterThan(balance.Current) {
				return &generic.InsufficientBalanceError{
					EmployeeID: req.EmployeeID, TeamID: req.TeamID,
					Available: balance.Current, Requested: req.DaysRequested,
				}
			}
			balance.consume(req.DaysRequested)
			if _, err := s.saveBalance(ctx, tx, balance); err != nil {
				return err
			}

			if req, err = s.decide(ctx, tx, req, actor, StatusApproved, ""); err != nil {
				return err
			}
			err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
				ID:             generic.TransactionID(uuid.NewString()),
				EmployeeID:     req.EmployeeID,
				TeamID:         req.TeamID,
				EffectiveAt:    req.Date,
				Delta:          req.DaysRequested.Neg(),
				Type:           generic.TxConsumption,
				ReferenceID:    req.ID,
				Reason:         req.Reason,
				IdempotencyKey: "consume:" + req.ID,
				CreatedBy:      string(actor.ID),
			})
			if err != nil {
				return generic.Persist("append consumption", err)
			}
			result = req
			return nil
		})
	})
	if err != nil {
		return Request{}, err
	}

	s.logger.Info("request approved", "request_id", id, "approver", actor.ID)
	s.notifier.Notify(ctx, notify.Event{
		Kind: notify.KindRequestApproved, EmployeeID: result.EmployeeID, TeamID: result.TeamID, Success: true,
		Message: fmt.Sprintf("Your request for %s remote day(s) on %s was approved", result.DaysRequested.Value, result.Date),
	})
	return result, nil
}

// Reject closes a pending request without touching the balance.
func (s *Service) Reject(ctx context.Context, actor Actor, id, reason string) (Request, error) {
	req, err := s.transition(ctx, actor, id, "reject", StatusRejected, reason, func(req Request) error {
		return s.authorizer.CanDecide(actor, req)
	})
	if err != nil {
		return Request{}, err
	}
	s.logger.Info("request rejected", "request_id", id, "approver", actor.ID)
	s.notifier.Notify(ctx, notify.Event{
		Kind: notify.KindRequestRejected, EmployeeID: req.EmployeeID, TeamID: req.TeamID, Success: false,
		Message: fmt.Sprintf("Your request for %s remote day(s) on %s was rejected", req.DaysRequested.Value, req.Date),
	})
	return req, nil
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, actor Actor, id string) (Request, error) {
	req, err := s.transition(ctx, actor, id, "cancel", StatusCancelled, "", func(req Request) error {
		if req.EmployeeID != actor.ID {
			return fmt.Errorf("%w: only the requester may cancel", generic.ErrForbidden)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.logger.Info("request cancelled", "request_id", id)
	s.notifier.Notify(ctx, notify.Event{
		Kind: notify.KindRequestCancelled, EmployeeID: req.EmployeeID, TeamID: req.TeamID, Success: true,
		Message: fmt.Sprintf("Request for %s remote day(s) on %s cancelled", req.DaysRequested.Value, req.Date),
	})
	return req, nil
}

// transition moves a pending request to a terminal state without a balance change.
func (s *Service) transition(ctx context.Context, actor Actor, id, action string, to RequestStatus, reason string, allow func(Request) error) (Request, error) {
	unlock := s.locks.Lock(RequestKey(id))
	defer unlock()

	var result Request
	err := generic.RetryOnConflict(ctx, func() error {
		req, err := loadRequest(ctx, s.store, id)
		if err != nil {
			return err
		}
		if err := allow(req); err != nil {
			return err
		}
		if req.Status != StatusPending {
			return &generic.InvalidTransitionError{Subject: "request", From: string(req.Status), Action: action}
		}
		result, err = s.decide(ctx, s.store, req, actor, to, reason)
		return err
	})
	return result, err
}

func (s *Service) decide(ctx context.Context, kv generic.KV, req Request, actor Actor, to RequestStatus, reason string) (Request, error) {
	now := s.now().UTC()
	req.Status = to
	req.DecidedAt = &now
	req.DecidedBy = actor.ID
	req.DecisionReason = strings.TrimSpace(reason)
	v, err := generic.PutJSON(ctx, kv, RequestKey(req.ID), req, req.Version)
	if err != nil {
		return req, generic.Persist("save request", err)
	}
	req.Version = v
	return req, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetRequest(ctx context.Context, id string) (Request, error) {
	return loadRequest(ctx, s.store, id)
}

// ListRequests returns a team's requests, oldest first. Empty status means all.
func (s *Service) ListRequests(ctx context.Context, teamID generic.TeamID, status RequestStatus) ([]Request, error) {
	return s.listRequests(ctx, func(r Request) bool {
		return r.TeamID == teamID && (status == "" || r.Status == status)
	})
}

func (s *Service) listRequests(ctx context.Context, keep func(Request) bool) ([]Request, error) {
	all, err := generic.ListJSON[Request](ctx, s.store, "request:")
	if err != nil {
		return nil, generic.Persist("list requests", err)
	}
	out := all[:0]
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func loadRequest(ctx context.Context, kv generic.KV, id string) (Request, error) {
	var req Request
	v, err := generic.GetJSON(ctx, kv, RequestKey(id), &req)
	if err != nil {
		if generic.IsNotFound(err) {
			return Request{}, fmt.Errorf("request %s: %w", id, generic.ErrNotFound)
		}
		return Request{}, generic.Persist("load request", err)
	}
	req.Version = v
	return req, nil
}
