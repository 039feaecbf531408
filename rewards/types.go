/*
Package rewards implements the remote-day reward model: employees earn
remote-work days by attending the office and redeem them through an
approval workflow.

PURPOSE:
  Four pieces, leaf first:
  - Balance Store: one Balance per (employee, team) in the KV namespace
  - Accrual Policy Engine: pure Accrue() turning attendance into deltas
  - Request Workflow: pending -> approved | rejected | cancelled
  - Policy presets and descriptions for the team policy store

ACCRUAL MODELS:
  ratio_based:    1 remote day per OfficeToRemoteRatio office days
  simple_3_to_1:  ratio_based with ratio fixed at 3
  streak_based:   StreakBonusAmount once per streak reaching StreakBonusThreshold

KEY INVARIANTS:
  1. Current == TotalEarned - TotalUsed after every operation
  2. Earning is whole days; only redemption uses 0.5 steps
  3. An approved request is deducted exactly once (ledger key consume:<id>)
  4. Balance mutations are serialized per (employee, team)

KEY NAMESPACE:
  balance:<team>:<employee>  Balance
  request:<id>               Request

SEE ALSO:
  - accrual.go: Accrue() and the accrual rules
  - service.go: Balance Store + attendance recording
  - request.go: Redemption workflow
  - describe.go: Human-readable policy descriptions
*/
package rewards

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/generic"
)

// =============================================================================
// TEAM POLICY
// =============================================================================

type AccrualModel string

const (
	ModelRatioBased   AccrualModel = "ratio_based"
	ModelSimple3To1   AccrualModel = "simple_3_to_1"
	ModelStreakBased  AccrualModel = "streak_based"
	defaultSimpleRate              = 3
)

func (m AccrualModel) Valid() bool {
	switch m {
	case ModelRatioBased, ModelSimple3To1, ModelStreakBased:
		return true
	}
	return false
}

// TeamPolicy is the team's RTO and reward configuration.
// Accrual parameters are read from here at accrual time; balances never own them.
type TeamPolicy struct {
	RequiredOfficeDays   int             `json:"required_office_days"`
	AccrualModel         AccrualModel    `json:"accrual_model"`
	OfficeToRemoteRatio  int             `json:"office_to_remote_ratio"`
	StreakBonusThreshold int             `json:"streak_bonus_threshold"`
	StreakBonusAmount    int             `json:"streak_bonus_amount"`
	HighLimitDays        decimal.Decimal `json:"high_limit_days"`
	WeeklyHighLimitDays  decimal.Decimal `json:"weekly_high_limit_days"`
	CoreHours            string          `json:"core_hours,omitempty"`
}

// Validate checks the policy is usable by Accrue and the request workflow.
func (p TeamPolicy) Validate() error {
	if p.RequiredOfficeDays < 1 || p.RequiredOfficeDays > 5 {
		return generic.NewValidationError("required_office_days", "must be between 1 and 5")
	}
	if !p.AccrualModel.Valid() {
		return generic.NewValidationError("accrual_model", fmt.Sprintf("unknown accrual model %q", p.AccrualModel))
	}
	if p.AccrualModel == ModelRatioBased && p.OfficeToRemoteRatio < 1 {
		return generic.NewValidationError("office_to_remote_ratio", "must be at least 1")
	}
	if p.AccrualModel == ModelStreakBased {
		if p.StreakBonusThreshold < 1 {
			return generic.NewValidationError("streak_bonus_threshold", "must be at least 1")
		}
		if p.StreakBonusAmount < 1 {
			return generic.NewValidationError("streak_bonus_amount", "must be at least 1")
		}
	}
	if p.HighLimitDays.IsNegative() || p.WeeklyHighLimitDays.IsNegative() {
		return generic.NewValidationError("high_limit_days", "must not be negative")
	}
	return nil
}

// Ratio is the office-days-per-remote-day divisor for the counting models.
func (p TeamPolicy) Ratio() int {
	if p.AccrualModel == ModelSimple3To1 {
		return defaultSimpleRate
	}
	return p.OfficeToRemoteRatio
}

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	EmployeeID    generic.EmployeeID `json:"employee_id"`
	TeamID        generic.TeamID     `json:"team_id"`
	Current       generic.Amount     `json:"current"`
	TotalEarned   generic.Amount     `json:"total_earned"`
	TotalUsed     generic.Amount     `json:"total_used"`
	Streak        int                `json:"streak"`
	LastOfficeDay *generic.TimePoint `json:"last_office_day"`
	OfficeDays    int                `json:"office_days"`
	BonusAwarded  bool               `json:"bonus_awarded"`
	UpdatedAt     time.Time          `json:"updated_at"`

	// Version is the KV record version; 0 means not persisted yet.
	Version int64 `json:"-"`
}

// NewBalance is the zero balance for an employee joining a team.
func NewBalance(employeeID generic.EmployeeID, teamID generic.TeamID) Balance {
	return Balance{
		EmployeeID:  employeeID,
		TeamID:      teamID,
		Current:     generic.ZeroDays(),
		TotalEarned: generic.ZeroDays(),
		TotalUsed:   generic.ZeroDays(),
	}
}

// Consistent reports whether Current == TotalEarned - TotalUsed.
func (b Balance) Consistent() bool {
	return b.Current.Equal(b.TotalEarned.Sub(b.TotalUsed))
}

func (b *Balance) earn(days generic.Amount) {
	b.TotalEarned = b.TotalEarned.Add(days)
	b.Current = b.Current.Add(days)
}

func (b *Balance) consume(days generic.Amount) {
	b.TotalUsed = b.TotalUsed.Add(days)
	b.Current = b.Current.Sub(days)
}

func BalanceKey(teamID generic.TeamID, employeeID generic.EmployeeID) string {
	return fmt.Sprintf("balance:%s:%s", teamID, employeeID)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type WorkType string

const (
	WorkOffice   WorkType = "office"
	WorkRemote   WorkType = "remote"
	WorkFlexible WorkType = "flexible"
)

func (w WorkType) Valid() bool {
	switch w {
	case WorkOffice, WorkRemote, WorkFlexible:
		return true
	}
	return false
}

// AttendanceEvent is one day's work location for an employee in a team.
type AttendanceEvent struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	TeamID     generic.TeamID     `json:"team_id"`
	Date       generic.TimePoint  `json:"date"`
	WorkType   WorkType           `json:"work_type"`
	Source     string             `json:"source,omitempty"` // "checkin", "manual", "scenario"
}

func (e AttendanceEvent) Validate() error {
	if e.EmployeeID == "" {
		return generic.NewValidationError("employee_id", "is required")
	}
	if e.TeamID == "" {
		return generic.NewValidationError("team_id", "is required")
	}
	if e.Date.IsZero() {
		return generic.NewValidationError("date", "is required")
	}
	if !e.WorkType.Valid() {
		return generic.NewValidationError("work_type", fmt.Sprintf("unknown work type %q", e.WorkType))
	}
	return nil
}

// AccrualOutcome describes what Accrue did with one event.
type AccrualOutcome struct {
	Skipped   bool           `json:"skipped"`   // weekend, not processed
	Duplicate bool           `json:"duplicate"` // date already counted
	Changed   bool           `json:"changed"`   // balance state changed and must be saved
	Earned    generic.Amount `json:"earned"`    // ratio / 3-to-1 grant
	Bonus     generic.Amount `json:"bonus"`     // streak bonus
	Reason    string         `json:"reason,omitempty"`
}

// Total is Earned + Bonus.
func (o AccrualOutcome) Total() generic.Amount {
	return o.Earned.Add(o.Bonus)
}

// =============================================================================
// REQUESTS
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

func ParseStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case "", StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return RequestStatus(s), nil
	}
	return "", generic.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
}

// Request is a remote-day redemption request.
type Request struct {
	ID                        string             `json:"id"`
	EmployeeID                generic.EmployeeID `json:"employee_id"`
	TeamID                    generic.TeamID     `json:"team_id"`
	Date                      generic.TimePoint  `json:"date"`
	DaysRequested             generic.Amount     `json:"days_requested"`
	Reason                    string             `json:"reason,omitempty"`
	Status                    RequestStatus      `json:"status"`
	RequiresHighLimitApproval bool               `json:"requires_high_limit_approval"`
	CreatedAt                 time.Time          `json:"created_at"`
	DecidedAt                 *time.Time         `json:"decided_at,omitempty"`
	DecidedBy                 generic.EmployeeID `json:"decided_by,omitempty"`
	DecisionReason            string             `json:"decision_reason,omitempty"`

	Version int64 `json:"-"`
}

func RequestKey(id string) string { return "request:" + id }

// Actor is whoever performs a workflow operation.
// Role is the effective role for the team (global role elevated by team membership).
type Actor struct {
	ID   generic.EmployeeID
	Role auth.Role
}
