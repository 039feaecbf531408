/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic
	data. Each scenario creates users, a team with a policy, attendance
	history and requests that demonstrate one part of the reward model.

AVAILABLE SCENARIOS:

	three-to-one:   3-to-1 policy, three office days earn a remote day
	                which is then requested and approved
	streak-bonus:   streak policy, a full office week earns a bonus
	anchor-voting:  four employees vote on office days for next week

HOW SCENARIOS WORK:
 1. Reset store (clear all data, flush the team cache)
 2. Create admin@hibridge.local and the scenario users
    (password "password123" for all) and the team
 3. Set the team policy via the policy factory
 4. Replay attendance through the accrual engine
 5. Optionally file and decide requests, or cast votes

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "three-to-one"}

NOTE:

	Scenarios reset the store. The routes are only mounted outside
	production.

SEE ALSO:
  - rewards/factory.go: Policy JSON presets
  - server.go: Route gating
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const scenarioPassword = "password123"

var scenarios = []ScenarioDTO{
	{
		ID:          "three-to-one",
		Name:        "Three to One",
		Description: "Three office days earn one remote day, which is requested and approved",
	},
	{
		ID:          "streak-bonus",
		Name:        "Streak Bonus",
		Description: "Five office days in a row earn a bonus remote day",
	},
	{
		ID:          "anchor-voting",
		Name:        "Anchor Day Voting",
		Description: "A team votes on next week's office days",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios, "current": current})
}

// LoadScenario wipes the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := auth.Require(claimsFrom(ctx).Role, auth.PermScenarios); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "three-to-one":
		load = h.loadThreeToOneScenario
	case "streak-bonus":
		load = h.loadStreakBonusScenario
	case "anchor-voting":
		load = h.loadAnchorVotingScenario
	default:
		h.writeError(w, r, generic.NewValidationError("scenario_id", fmt.Sprintf("unknown scenario %q", req.ScenarioID)))
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.store.Reset(ctx); err != nil {
		h.writeError(w, r, generic.Persist("reset store", err))
		return
	}
	h.dir.FlushCache()
	// The reset removed every account, including the caller's.
	if _, err := h.scenarioUser(ctx, "admin@hibridge.local", "Ada", "Admin", auth.RoleAdmin); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := load(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Loaded scenario %s", req.ScenarioID)})
}

// =============================================================================
// LOADERS
// =============================================================================

// loadThreeToOneScenario: Ada works Mon-Wed of last week in the office,
// earns one remote day and has it approved for Friday.
func (h *Handler) loadThreeToOneScenario(ctx context.Context) error {
	manager, team, err := h.scenarioTeam(ctx, "Platform", rewards.ThreeToOnePolicyJSON(3))
	if err != nil {
		return err
	}
	ada, err := h.scenarioMember(ctx, team, "ada@hibridge.local", "Ada", "Lovelace")
	if err != nil {
		return err
	}

	monday := generic.DateOf(h.now()).WeekStart().AddDays(-7)
	if err := h.replay(ctx, ada, team, monday, "office", "office", "office", "remote"); err != nil {
		return err
	}
	actor := rewards.Actor{ID: ada.EmployeeID(), Role: auth.RoleEmployee}
	req, err := h.rewards.CreateRequest(ctx, actor, team.ID, monday.AddDays(4), generic.Days(1), "Dentist in the morning")
	if err != nil {
		return err
	}
	_, err = h.rewards.Approve(ctx, rewards.Actor{ID: manager.EmployeeID(), Role: auth.RoleManager}, req.ID)
	return err
}

// loadStreakBonusScenario: Grace is in the office all week on a streak
// policy (ratio 3, bonus 1 after 5) and ends with 2.0 remote days.
func (h *Handler) loadStreakBonusScenario(ctx context.Context) error {
	_, team, err := h.scenarioTeam(ctx, "Research", rewards.StreakPolicyJSON(3, 5, 1))
	if err != nil {
		return err
	}
	grace, err := h.scenarioMember(ctx, team, "grace@hibridge.local", "Grace", "Hopper")
	if err != nil {
		return err
	}
	monday := generic.DateOf(h.now()).WeekStart().AddDays(-7)
	return h.replay(ctx, grace, team, monday, "office", "office", "office", "office", "office")
}

// loadAnchorVotingScenario: four employees vote for next week; three submit.
func (h *Handler) loadAnchorVotingScenario(ctx context.Context) error {
	_, team, err := h.scenarioTeam(ctx, "Design", rewards.RatioPolicyJSON(2, 3))
	if err != nil {
		return err
	}
	next := generic.DateOf(h.now()).WeekStart().AddDays(7)
	ballots := []struct {
		first, last string
		days        []int // offsets from Monday
		submit      bool
	}{
		{"Alan", "Turing", []int{1, 3}, true},
		{"Barbara", "Liskov", []int{1, 2}, true},
		{"Edsger", "Dijkstra", []int{1, 3}, true},
		{"Donald", "Knuth", []int{0}, false},
	}
	for _, b := range ballots {
		email := fmt.Sprintf("%s@hibridge.local", b.first)
		user, err := h.scenarioMember(ctx, team, email, b.first, b.last)
		if err != nil {
			return err
		}
		for _, offset := range b.days {
			if _, err := h.votes.Toggle(ctx, user.EmployeeID(), team.ID, next.AddDays(offset)); err != nil {
				return err
			}
		}
		if b.submit {
			if _, err := h.votes.Submit(ctx, user.EmployeeID(), team.ID, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) scenarioUser(ctx context.Context, email, first, last string, role auth.Role) (directory.User, error) {
	hash, err := auth.HashPassword(scenarioPassword)
	if err != nil {
		return directory.User{}, err
	}
	return h.dir.CreateUser(ctx, directory.User{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     first,
		LastName:      last,
		Role:          role,
		EmailVerified: true,
	})
}

// scenarioTeam creates a manager and a team with the policy from policyJSON.
func (h *Handler) scenarioTeam(ctx context.Context, name, policyJSON string) (directory.User, directory.Team, error) {
	manager, err := h.scenarioUser(ctx, "manager@hibridge.local", "Mary", "Manager", auth.RoleManager)
	if err != nil {
		return directory.User{}, directory.Team{}, err
	}
	team, err := h.dir.CreateTeam(ctx, manager, name, "Demo team")
	if err != nil {
		return directory.User{}, directory.Team{}, err
	}
	policy, err := h.policies.ParsePolicy(policyJSON)
	if err != nil {
		return directory.User{}, directory.Team{}, err
	}
	if team, err = h.dir.UpdatePolicy(ctx, team.ID, policy); err != nil {
		return directory.User{}, directory.Team{}, err
	}
	return manager, team, nil
}

func (h *Handler) scenarioMember(ctx context.Context, team directory.Team, email, first, last string) (directory.User, error) {
	user, err := h.scenarioUser(ctx, email, first, last, auth.RoleEmployee)
	if err != nil {
		return directory.User{}, err
	}
	if _, err := h.dir.AddMember(ctx, team.ID, user.EmployeeID(), auth.RoleEmployee); err != nil {
		return directory.User{}, err
	}
	_, err = h.rewards.EnsureBalance(ctx, user.EmployeeID(), team.ID)
	return user, err
}

// replay records one attendance event per workday starting at from.
func (h *Handler) replay(ctx context.Context, user directory.User, team directory.Team, from generic.TimePoint, workTypes ...string) error {
	for i, wt := range workTypes {
		_, _, err := h.rewards.RecordAttendance(ctx, rewards.AttendanceEvent{
			EmployeeID: user.EmployeeID(),
			TeamID:     team.ID,
			Date:       from.AddDays(i),
			WorkType:   rewards.WorkType(wt),
			Source:     "scenario",
		})
		if err != nil {
			return err
		}
	}
	return nil
}
