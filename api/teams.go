/*
teams.go - Team-scoped HTTP handlers

ENDPOINTS:
  Teams:
    GET    /api/teams                              Caller's teams
    POST   /api/teams                              Create team {team}
    GET    /api/teams/{teamID}                     Team with policy
    PUT    /api/teams/{teamID}/policy              Update RTO/reward policy (manager)
    PUT    /api/teams/{teamID}/office              Set check-in office (manager)
    POST   /api/teams/{teamID}/members             Join, or add by email (manager)
    GET    /api/teams/{teamID}/members             Roster with balances

  Balances:
    POST   /api/teams/{teamID}/attendance          Record attendance (manager)
    POST   /api/teams/{teamID}/adjustments         Manual correction (manager)
    GET    /api/teams/{teamID}/balance             Own balance (?asOf= replays the ledger)
    GET    /api/teams/{teamID}/balance/{employeeID}
    GET    /api/teams/{teamID}/transactions        Ledger (?employeeId=)
    GET    /api/teams/{teamID}/statement.pdf       PDF statement (?employeeId=)

  Requests:
    POST   /api/teams/{teamID}/requests            Create remote-day request
    GET    /api/teams/{teamID}/requests            List (?status=)
    GET    /api/requests/{id}
    POST   /api/requests/{id}/approve
    POST   /api/requests/{id}/reject
    POST   /api/requests/{id}/cancel

  Votes:
    GET    /api/teams/{teamID}/votes               Own vote set (?week=)
    POST   /api/teams/{teamID}/votes/toggle        {date}
    POST   /api/teams/{teamID}/votes/submit        {weekStart}
    POST   /api/teams/{teamID}/votes/reset         {weekStart}
    GET    /api/teams/{teamID}/votes/anchor-days   Team tally (?week=)

ACCESS:
  Team routes require membership (global admins pass). Reading another
  employee's balance or ledger needs balances.read_others; employees only
  see their own requests.

SEE ALSO:
  - handlers.go: Handler, helpers, error mapping
  - rewards/request.go: Workflow and authorization of decisions
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/report"
	"github.com/hibridge/engine/rewards"
	"github.com/hibridge/engine/voting"
)

// actor resolves the caller's effective role in a team.
func (h *Handler) actor(ctx context.Context, teamID generic.TeamID) (rewards.Actor, error) {
	claims := claimsFrom(ctx)
	if claims == nil {
		return rewards.Actor{}, fmt.Errorf("%w: not authenticated", generic.ErrAuth)
	}
	if _, err := h.dir.Team(ctx, teamID); err != nil {
		return rewards.Actor{}, err
	}
	id := generic.EmployeeID(claims.UserID)
	if claims.Role == auth.RoleAdmin {
		return rewards.Actor{ID: id, Role: auth.RoleAdmin}, nil
	}
	m, err := h.dir.Membership(ctx, teamID, id)
	if errors.Is(err, generic.ErrNotFound) {
		return rewards.Actor{}, fmt.Errorf("%w: not a member of team %s", generic.ErrForbidden, teamID)
	}
	if err != nil {
		return rewards.Actor{}, err
	}
	return rewards.Actor{ID: id, Role: m.Role}, nil
}

// subject returns whose records to read: the caller, or ?employeeId= when allowed.
func (h *Handler) subject(ctx context.Context, actor rewards.Actor, teamID generic.TeamID, requested string) (generic.EmployeeID, error) {
	if requested == "" || generic.EmployeeID(requested) == actor.ID {
		return actor.ID, nil
	}
	if err := auth.Require(actor.Role, auth.PermBalancesReadOthers); err != nil {
		return "", err
	}
	employeeID := generic.EmployeeID(requested)
	if _, err := h.dir.Membership(ctx, teamID, employeeID); err != nil {
		return "", err
	}
	return employeeID, nil
}

func teamParam(r *http.Request) generic.TeamID {
	return generic.TeamID(chi.URLParam(r, "teamID"))
}

// =============================================================================
// TEAM HANDLERS
// =============================================================================

// CreateTeam creates a team; the caller becomes its manager.
// POST /api/teams
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := auth.Require(claimsFrom(ctx).Role, auth.PermTeamsCreate); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CreateTeamRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.currentUser(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	team, err := h.dir.CreateTeam(ctx, user, req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.rewards.EnsureBalance(ctx, user.EmployeeID(), team.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TeamResponse{Team: toTeamDTO(team)})
}

// ListTeams returns the teams the caller belongs to.
// GET /api/teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberships, err := h.dir.TeamsOf(ctx, generic.EmployeeID(claimsFrom(ctx).UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	teams := make([]TeamDTO, 0, len(memberships))
	for _, m := range memberships {
		team, err := h.dir.Team(ctx, m.TeamID)
		if errors.Is(err, generic.ErrNotFound) {
			continue
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		teams = append(teams, toTeamDTO(team))
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

// GetTeam returns a team and its policy.
// GET /api/teams/{teamID}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	if _, err := h.actor(ctx, teamID); err != nil {
		h.writeError(w, r, err)
		return
	}
	team, err := h.dir.Team(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TeamResponse{Team: toTeamDTO(team)})
}

// UpdatePolicy applies a partial policy document on top of the current policy.
// PUT /api/teams/{teamID}/policy
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.Require(actor.Role, auth.PermTeamsManage); err != nil {
		h.writeError(w, r, err)
		return
	}
	team, err := h.dir.Team(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		h.writeError(w, r, generic.NewValidationError("body", "could not be read"))
		return
	}
	policy, err := h.policies.WithDefaults(team.Policy).ParsePolicy(string(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	team, err = h.dir.UpdatePolicy(ctx, teamID, policy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(ctx, "team policy updated", "team_id", teamID, "by", actor.ID, "model", policy.AccrualModel)
	writeJSON(w, http.StatusOK, TeamResponse{Team: toTeamDTO(team)})
}

// SetOffice sets the check-in office used for the geofence.
// PUT /api/teams/{teamID}/office
func (h *Handler) SetOffice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.Require(actor.Role, auth.PermTeamsManage); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req OfficeDTO
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	team, err := h.dir.SetOffice(ctx, teamID, &directory.Office{
		Name:         req.Name,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TeamResponse{Team: toTeamDTO(team)})
}

// AddMember joins the caller to a team, or lets a manager add a user by email.
// Either way the member gets a zero balance.
// POST /api/teams/{teamID}/members
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	var req AddMemberRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.dir.Team(ctx, teamID); err != nil {
		h.writeError(w, r, err)
		return
	}

	claims := claimsFrom(ctx)
	employeeID := generic.EmployeeID(claims.UserID)
	role := auth.RoleEmployee
	if req.Email != "" {
		actor, err := h.actor(ctx, teamID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := auth.Require(actor.Role, auth.PermTeamsManage); err != nil {
			h.writeError(w, r, err)
			return
		}
		user, err := h.dir.UserByEmail(ctx, req.Email)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		employeeID = user.EmployeeID()
		if req.Role != "" {
			role = auth.Role(req.Role)
		}
	}

	m, err := h.dir.AddMember(ctx, teamID, employeeID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.rewards.EnsureBalance(ctx, employeeID, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberDTO{
		EmployeeID: string(m.EmployeeID),
		Role:       string(m.Role),
		JoinedAt:   m.JoinedAt.Format(timeLayout),
		Balance:    days(b.Current),
	})
}

// ListMembers returns the roster with current balances.
// GET /api/teams/{teamID}/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	if _, err := h.actor(ctx, teamID); err != nil {
		h.writeError(w, r, err)
		return
	}
	members, err := h.dir.Members(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balances, err := h.rewards.ListBalances(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	current := make(map[generic.EmployeeID]float64, len(balances))
	for _, b := range balances {
		current[b.EmployeeID] = days(b.Current)
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = MemberDTO{
			EmployeeID: string(m.EmployeeID),
			Role:       string(m.Role),
			JoinedAt:   m.JoinedAt.Format(timeLayout),
			Balance:    current[m.EmployeeID],
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": dtos})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// RecordAttendance feeds a manually entered attendance day to the accrual engine.
// POST /api/teams/{teamID}/attendance
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.Require(actor.Role, auth.PermAttendanceRecord); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AttendanceRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	employeeID := actor.ID
	if req.EmployeeID != "" {
		employeeID = generic.EmployeeID(req.EmployeeID)
	}
	if _, err := h.dir.Membership(ctx, teamID, employeeID); err != nil {
		h.writeError(w, r, err)
		return
	}

	b, out, err := h.rewards.RecordAttendance(ctx, rewards.AttendanceEvent{
		EmployeeID: employeeID,
		TeamID:     teamID,
		Date:       date,
		WorkType:   rewards.WorkType(req.WorkType),
		Source:     "manual",
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	policy, err := h.dir.TeamPolicy(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AttendanceResponse{Balance: toBalanceDTO(b, policy), Outcome: out})
}

// CreateAdjustment applies a manual balance correction.
// POST /api/teams/{teamID}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.Require(actor.Role, auth.PermTeamsManage); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	employeeID := generic.EmployeeID(req.EmployeeID)
	if _, err := h.dir.Membership(ctx, teamID, employeeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.rewards.Adjust(ctx, actor, employeeID, teamID, generic.Days(req.Delta), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	policy, err := h.dir.TeamPolicy(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := toBalanceDTO(b, policy)
	if asOf := r.URL.Query().Get("asOf"); asOf != "" {
		at, err := generic.ParseDate(asOf)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		amount, err := h.rewards.BalanceAt(ctx, employeeID, teamID, at)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		value := days(amount)
		dto.AsOf = at.String()
		dto.BalanceAsOf = &value
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetBalance returns the caller's balance, or an employee's with balances.read_others.
// GET /api/teams/{teamID}/balance?asOf=2025-03-05
// GET /api/teams/{teamID}/balance/{employeeID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	employeeID, err := h.subject(ctx, actor, teamID, chi.URLParam(r, "employeeID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.balanceOrZero(ctx, employeeID, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	policy, err := h.dir.TeamPolicy(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := toBalanceDTO(b, policy)
	if asOf := r.URL.Query().Get("asOf"); asOf != "" {
		at, err := generic.ParseDate(asOf)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		amount, err := h.rewards.BalanceAt(ctx, employeeID, teamID, at)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		value := days(amount)
		dto.AsOf = at.String()
		dto.BalanceAsOf = &value
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetTransactions returns the ledger with a running balance.
// GET /api/teams/{teamID}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	employeeID, err := h.subject(ctx, actor, teamID, r.URL.Query().Get("employeeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.rewards.Transactions(ctx, employeeID, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionDTOs(txs)})
}

// GetStatement renders the balance and ledger as a PDF.
// GET /api/teams/{teamID}/statement.pdf
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	employeeID, err := h.subject(ctx, actor, teamID, r.URL.Query().Get("employeeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.dir.UserByID(ctx, string(employeeID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	team, err := h.dir.Team(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.balanceOrZero(ctx, employeeID, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.rewards.Transactions(ctx, employeeID, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "statement-"+team.Name+".pdf"))
	err = report.WriteStatement(w, report.StatementData{
		EmployeeName:  user.FirstName + " " + user.LastName,
		EmployeeEmail: user.Email,
		TeamName:      team.Name,
		Policy:        team.Policy,
		Balance:       b,
		Transactions:  txs,
		GeneratedAt:   h.now().UTC(),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "statement render failed", "team_id", teamID, "employee_id", employeeID, "error", err)
	}
}

func (h *Handler) balanceOrZero(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID) (rewards.Balance, error) {
	b, err := h.rewards.GetBalance(ctx, employeeID, teamID)
	if errors.Is(err, generic.ErrNotFound) {
		return rewards.NewBalance(employeeID, teamID), nil
	}
	return b, err
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest files a remote-day request for the caller.
// POST /api/teams/{teamID}/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.Require(actor.Role, auth.PermRequestsCreate); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CreateRequestRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.rewards.CreateRequest(ctx, actor, teamID, date, generic.Days(req.DaysRequested), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": toRequestDTO(created)})
}

// ListRequests lists a team's requests; employees only see their own.
// GET /api/teams/{teamID}/requests?status=pending
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := rewards.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.rewards.ListRequests(ctx, teamID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !auth.Can(actor.Role, auth.PermRequestsApprove) {
		own := list[:0]
		for _, req := range list {
			if req.EmployeeID == actor.ID {
				own = append(own, req)
			}
		}
		list = own
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestDTOs(list)})
}

// GetRequest returns one request to its owner or a team approver.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, _, err := h.requestAndActor(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": toRequestDTO(req)})
}

// ApproveRequest deducts the balance and approves.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, actor, err := h.requestAndActor(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	decided, err := h.rewards.Approve(ctx, actor, req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": toRequestDTO(decided)})
}

// RejectRequest rejects a pending request.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, actor, err := h.requestAndActor(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body RejectRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	decided, err := h.rewards.Reject(ctx, actor, req.ID, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": toRequestDTO(decided)})
}

// CancelRequest withdraws the caller's pending request.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, actor, err := h.requestAndActor(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cancelled, err := h.rewards.Cancel(ctx, actor, req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": toRequestDTO(cancelled)})
}

// requestAndActor loads a request and the caller's role in its team. Other
// employees' requests are hidden unless the caller can approve.
func (h *Handler) requestAndActor(ctx context.Context, id string) (rewards.Request, rewards.Actor, error) {
	req, err := h.rewards.GetRequest(ctx, id)
	if err != nil {
		return rewards.Request{}, rewards.Actor{}, err
	}
	actor, err := h.actor(ctx, req.TeamID)
	if err != nil {
		return rewards.Request{}, rewards.Actor{}, err
	}
	if req.EmployeeID != actor.ID && !auth.Can(actor.Role, auth.PermRequestsApprove) {
		return rewards.Request{}, rewards.Actor{}, fmt.Errorf("request %s: %w", id, generic.ErrNotFound)
	}
	return req, actor, nil
}

// =============================================================================
// VOTE HANDLERS
// =============================================================================

// GetVotes returns the caller's vote set for a week.
// GET /api/teams/{teamID}/votes?week=2025-03-03
func (h *Handler) GetVotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	week, err := h.week(r.URL.Query().Get("week"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	set, err := h.votes.Get(ctx, actor.ID, teamID, week)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeVoteSet(w, r, set, http.StatusOK)
}

// ToggleVote adds or removes one weekday from the caller's vote set.
// POST /api/teams/{teamID}/votes/toggle
func (h *Handler) ToggleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.voter(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ToggleVoteRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	set, err := h.votes.Toggle(ctx, actor.ID, teamID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeVoteSet(w, r, set, http.StatusOK)
}

// SubmitVotes locks in the caller's vote set.
// POST /api/teams/{teamID}/votes/submit
func (h *Handler) SubmitVotes(w http.ResponseWriter, r *http.Request) {
	h.weekAction(w, r, h.votes.Submit)
}

// ResetVotes clears the caller's vote set.
// POST /api/teams/{teamID}/votes/reset
func (h *Handler) ResetVotes(w http.ResponseWriter, r *http.Request) {
	h.weekAction(w, r, h.votes.Reset)
}

func (h *Handler) weekAction(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, generic.EmployeeID, generic.TeamID, generic.TimePoint) (voting.VoteSet, error)) {
	ctx := r.Context()
	teamID := teamParam(r)
	actor, err := h.voter(ctx, teamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req WeekRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	week, err := h.week(req.WeekStart)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	set, err := fn(ctx, actor.ID, teamID, week)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeVoteSet(w, r, set, http.StatusOK)
}

// AnchorDays returns the team tally and the recommended office days.
// GET /api/teams/{teamID}/votes/anchor-days?week=2025-03-03
func (h *Handler) AnchorDays(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	teamID := teamParam(r)
	if _, err := h.actor(ctx, teamID); err != nil {
		h.writeError(w, r, err)
		return
	}
	week, err := h.week(r.URL.Query().Get("week"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tally, err := h.votes.Tally(ctx, teamID, week)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dto := AnchorDaysDTO{
		TeamID:     string(tally.TeamID),
		WeekStart:  tally.WeekStart.String(),
		Submitted:  tally.Submitted,
		Counts:     make(map[string]int, len(tally.Counts)),
		AnchorDays: make([]string, len(tally.AnchorDays)),
	}
	for _, c := range tally.Counts {
		dto.Counts[c.Date.String()] = c.Count
	}
	for i, d := range tally.AnchorDays {
		dto.AnchorDays[i] = d.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) voter(ctx context.Context, teamID generic.TeamID) (rewards.Actor, error) {
	actor, err := h.actor(ctx, teamID)
	if err != nil {
		return rewards.Actor{}, err
	}
	return actor, auth.Require(actor.Role, auth.PermVote)
}

// week parses a date and returns its Monday; empty means the current week.
func (h *Handler) week(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.DateOf(h.now()).WeekStart(), nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, err
	}
	return d.WeekStart(), nil
}

func (h *Handler) writeVoteSet(w http.ResponseWriter, r *http.Request, set voting.VoteSet, status int) {
	policy, err := h.dir.TeamPolicy(r.Context(), set.TeamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := VoteSetDTO{
		EmployeeID:   string(set.EmployeeID),
		TeamID:       string(set.TeamID),
		WeekStart:    set.WeekStart.String(),
		VotedDays:    make([]string, len(set.Days)),
		RequiredDays: policy.RequiredOfficeDays,
		Submitted:    set.Submitted,
	}
	for i, d := range set.Days {
		dto.VotedDays[i] = d.String()
	}
	writeJSON(w, status, dto)
}
