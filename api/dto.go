/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model (rewards, voting, directory) from the external API
  contract the frontend reads.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode(r, &req), which decodes and validates in one step; domain rules
  (balance, state transitions, vote limits) stay in the domain packages.

AMOUNTS:
  Balances are decimals internally. The API renders them as JSON numbers
  with at most one decimal place, since every amount is a multiple of 0.5.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/factory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/rewards"
)

const timeLayout = time.RFC3339

// =============================================================================
// AUTH
// =============================================================================

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Role      string `json:"role" validate:"omitempty,oneof=employee manager"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserDTO is a user without the password hash.
type UserDTO struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	CreatedAt     string `json:"createdAt"`
}

type UserResponse struct {
	User UserDTO `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func toUserDTO(u directory.User) UserDTO {
	return UserDTO{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt.Format(timeLayout),
	}
}

// =============================================================================
// TEAMS
// =============================================================================

type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// AddMemberRequest adds a user by email; an empty email joins the caller.
type AddMemberRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Role  string `json:"role" validate:"omitempty,oneof=employee manager"`
}

type OfficeDTO struct {
	Name         string  `json:"name" validate:"required"`
	Latitude     float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64 `json:"longitude" validate:"min=-180,max=180"`
	RadiusMeters float64 `json:"radiusMeters" validate:"gt=0"`
}

type TeamDTO struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Policy      factory.PolicyJSON `json:"policy"`
	Office      *OfficeDTO         `json:"office,omitempty"`
	CreatedBy   string             `json:"createdBy"`
	CreatedAt   string             `json:"createdAt"`
}

type TeamResponse struct {
	Team TeamDTO `json:"team"`
}

type MemberDTO struct {
	EmployeeID string  `json:"employeeId"`
	Role       string  `json:"role"`
	JoinedAt   string  `json:"joinedAt"`
	Balance    float64 `json:"balance"`
}

func toTeamDTO(t directory.Team) TeamDTO {
	dto := TeamDTO{
		ID:          string(t.ID),
		Name:        t.Name,
		Description: t.Description,
		Policy:      factory.ToJSON(t.Policy),
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt.Format(timeLayout),
	}
	if t.Office != nil {
		dto.Office = &OfficeDTO{
			Name:         t.Office.Name,
			Latitude:     t.Office.Latitude,
			Longitude:    t.Office.Longitude,
			RadiusMeters: t.Office.RadiusMeters,
		}
	}
	return dto
}

// =============================================================================
// BALANCES & LEDGER
// =============================================================================

// BalanceDTO is a balance with amounts as numbers.
type BalanceDTO struct {
	EmployeeID    string  `json:"employeeId"`
	TeamID        string  `json:"teamId"`
	Current       float64 `json:"currentBalance"`
	TotalEarned   float64 `json:"totalEarned"`
	TotalUsed     float64 `json:"totalUsed"`
	Streak        int     `json:"streak"`
	OfficeDays    int     `json:"officeDays"`
	LastOfficeDay string  `json:"lastOfficeDay,omitempty"`
	AccrualModel  string  `json:"accrualModel"`
	Description   string  `json:"description"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`

	// Set when ?asOf= is given: the ledger replayed up to that date.
	AsOf        string   `json:"asOf,omitempty"`
	BalanceAsOf *float64 `json:"balanceAsOf,omitempty"`
}

func toBalanceDTO(b rewards.Balance, p rewards.TeamPolicy) BalanceDTO {
	dto := BalanceDTO{
		EmployeeID:   string(b.EmployeeID),
		TeamID:       string(b.TeamID),
		Current:      days(b.Current),
		TotalEarned:  days(b.TotalEarned),
		TotalUsed:    days(b.TotalUsed),
		Streak:       b.Streak,
		OfficeDays:   b.OfficeDays,
		AccrualModel: string(p.AccrualModel),
		Description:  rewards.DescribeAccrual(p),
	}
	if b.LastOfficeDay != nil {
		dto.LastOfficeDay = b.LastOfficeDay.String()
	}
	if !b.UpdatedAt.IsZero() {
		dto.UpdatedAt = b.UpdatedAt.Format(timeLayout)
	}
	return dto
}

// AttendanceRequest records a day of work for an employee (manager entry).
type AttendanceRequest struct {
	EmployeeID string `json:"employeeId"`
	Date       string `json:"date" validate:"required"`
	WorkType   string `json:"workType" validate:"required,oneof=office remote flexible"`
}

type AttendanceResponse struct {
	Balance BalanceDTO             `json:"balance"`
	Outcome rewards.AccrualOutcome `json:"outcome"`
}

type AdjustmentRequest struct {
	EmployeeID string  `json:"employeeId" validate:"required"`
	Delta      float64 `json:"delta" validate:"ne=0"`
	Reason     string  `json:"reason" validate:"required,max=200"`
}

// TransactionDTO represents a ledger entry with the running balance after it.
type TransactionDTO struct {
	ID             string  `json:"id"`
	Date           string  `json:"date"`
	Type           string  `json:"type"`
	Delta          float64 `json:"delta"`
	BalanceAfter   float64 `json:"balanceAfter"`
	ReferenceID    string  `json:"referenceId,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey"`
	CreatedBy      string  `json:"createdBy,omitempty"`
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	running := generic.ZeroDays()
	for _, tx := range txs {
		running = running.Add(tx.Delta)
		dtos = append(dtos, TransactionDTO{
			ID:             string(tx.ID),
			Date:           tx.EffectiveAt.String(),
			Type:           string(tx.Type),
			Delta:          days(tx.Delta),
			BalanceAfter:   days(running),
			ReferenceID:    tx.ReferenceID,
			Reason:         tx.Reason,
			IdempotencyKey: tx.IdempotencyKey,
			CreatedBy:      tx.CreatedBy,
		})
	}
	return dtos
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateRequestRequest struct {
	Date          string  `json:"date" validate:"required"`
	DaysRequested float64 `json:"daysRequested" validate:"gt=0"`
	Reason        string  `json:"reason" validate:"max=500"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type RequestDTO struct {
	ID                        string  `json:"id"`
	EmployeeID                string  `json:"employeeId"`
	TeamID                    string  `json:"teamId"`
	Date                      string  `json:"date"`
	DaysRequested             float64 `json:"daysRequested"`
	Reason                    string  `json:"reason,omitempty"`
	Status                    string  `json:"status"`
	RequiresHighLimitApproval bool    `json:"requiresHighLimitApproval"`
	CreatedAt                 string  `json:"createdAt"`
	DecidedAt                 string  `json:"decidedAt,omitempty"`
	DecidedBy                 string  `json:"decidedBy,omitempty"`
	DecisionReason            string  `json:"decisionReason,omitempty"`
}

func toRequestDTO(r rewards.Request) RequestDTO {
	dto := RequestDTO{
		ID:                        r.ID,
		EmployeeID:                string(r.EmployeeID),
		TeamID:                    string(r.TeamID),
		Date:                      r.Date.String(),
		DaysRequested:             days(r.DaysRequested),
		Reason:                    r.Reason,
		Status:                    string(r.Status),
		RequiresHighLimitApproval: r.RequiresHighLimitApproval,
		CreatedAt:                 r.CreatedAt.Format(timeLayout),
		DecidedBy:                 string(r.DecidedBy),
		DecisionReason:            r.DecisionReason,
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(timeLayout)
	}
	return dto
}

func toRequestDTOs(rs []rewards.Request) []RequestDTO {
	dtos := make([]RequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

// =============================================================================
// VOTES
// =============================================================================

type ToggleVoteRequest struct {
	Date string `json:"date" validate:"required"`
}

// WeekRequest names a voting week; empty means the current week.
type WeekRequest struct {
	WeekStart string `json:"weekStart"`
}

type VoteSetDTO struct {
	EmployeeID   string   `json:"employeeId"`
	TeamID       string   `json:"teamId"`
	WeekStart    string   `json:"weekStart"`
	VotedDays    []string `json:"votedDays"`
	RequiredDays int      `json:"requiredDays"`
	Submitted    bool     `json:"submitted"`
}

type AnchorDaysDTO struct {
	TeamID     string         `json:"teamId"`
	WeekStart  string         `json:"weekStart"`
	Submitted  int            `json:"submitted"`
	Counts     map[string]int `json:"counts"`
	AnchorDays []string       `json:"anchorDays"`
}

// =============================================================================
// PULSE & CHECK-IN
// =============================================================================

type PulseRequest struct {
	Rating       int    `json:"rating" validate:"required,min=1,max=5"`
	Mood         string `json:"mood" validate:"required,max=50"`
	Feedback     string `json:"feedback" validate:"max=1000"`
	WorkLocation string `json:"workLocation" validate:"omitempty,oneof=office remote flexible"`
}

type PulseResponse struct {
	Pulse directory.Pulse `json:"pulse"`
}

type CheckInResponse struct {
	CheckIn      directory.CheckIn `json:"checkin"`
	Balance      *BalanceDTO       `json:"balance,omitempty"`
	AccrualError string            `json:"accrualError,omitempty"`
}

// =============================================================================
// PUSH
// =============================================================================

type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256DH string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// =============================================================================
// MISC
// =============================================================================

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

func days(a generic.Amount) float64 {
	f, _ := a.Value.Round(1).Float64()
	return f
}
