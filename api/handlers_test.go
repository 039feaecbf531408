/*
handlers_test.go - End-to-end tests for the HTTP API

Tests for:
- Session lifecycle (register, login, me, logout) and 401s
- Team membership checks (403/404)
- Remote-day accrual, request and approval over HTTP
- Vote toggling, submission and anchor days
- Check-in upload, pulses, statement PDF, demo scenarios
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/generic"
)

type requestEnvelope struct {
	Request RequestDTO `json:"request"`
}

func TestAuth_SessionLifecycle(t *testing.T) {
	// GIVEN: A new account
	// WHEN: Registering, logging out and logging back in
	// THEN: The cookie session follows each step

	env := newTestEnv(t)
	c := env.client(t)

	user := c.register("Ada@Example.com", "Ada")
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "employee", user.Role)

	var me UserResponse
	c.call(http.MethodGet, "/api/auth/me", nil, http.StatusOK, &me)
	assert.Equal(t, user.ID, me.User.ID)

	c.call(http.MethodPost, "/api/auth/logout", nil, http.StatusOK, nil)
	assert.Equal(t, "auth_error", c.errorCode(http.MethodGet, "/api/auth/me", nil, http.StatusUnauthorized))

	assert.Equal(t, "auth_error", c.errorCode(http.MethodPost, "/api/auth/login",
		LoginRequest{Email: "ada@example.com", Password: "wrong-password"}, http.StatusUnauthorized))
	assert.Equal(t, "auth_error", c.errorCode(http.MethodPost, "/api/auth/login",
		LoginRequest{Email: "nobody@example.com", Password: "password123"}, http.StatusUnauthorized))

	c.call(http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@example.com", Password: "password123"}, http.StatusOK, nil)
	c.call(http.MethodGet, "/api/auth/me", nil, http.StatusOK, &me)
	assert.Equal(t, user.ID, me.User.ID)
}

func TestAuth_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	var health HealthResponse
	c.call(http.MethodGet, "/api/health", nil, http.StatusOK, &health)
	assert.Equal(t, "ok", health.Status)

	for _, path := range []string{"/api/auth/me", "/api/teams", "/api/pulse", "/api/checkin"} {
		assert.Equal(t, "auth_error", c.errorCode(http.MethodGet, path, nil, http.StatusUnauthorized), path)
	}

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	status, _ := c.send(req)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuth_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.register("ada@example.com", "Ada")

	cases := map[string]RegisterRequest{
		"bad email":      {Email: "not-an-email", Password: "password123", FirstName: "A", LastName: "B"},
		"short password": {Email: "b@example.com", Password: "short", FirstName: "A", LastName: "B"},
		"missing name":   {Email: "c@example.com", Password: "password123", LastName: "B"},
		"unknown role":   {Email: "d@example.com", Password: "password123", FirstName: "A", LastName: "B", Role: "ceo"},
		"admin role":     {Email: "e@example.com", Password: "password123", FirstName: "A", LastName: "B", Role: "admin"},
		"duplicate":      {Email: "ADA@example.com", Password: "password123", FirstName: "A", LastName: "B"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			fresh := env.client(t)
			assert.Equal(t, "validation_error", fresh.errorCode(http.MethodPost, "/api/auth/register", req, http.StatusBadRequest))
		})
	}
}

func TestTeams_MembershipRequired(t *testing.T) {
	env := newTestEnv(t)
	owner := env.client(t)
	owner.register("mary@example.com", "Mary")
	team := owner.createTeam("Platform")
	assert.Equal(t, "simple_3_to_1", team.Policy.AccrualModel)

	stranger := env.client(t)
	stranger.register("eve@example.com", "Eve")
	assert.Equal(t, "forbidden", stranger.errorCode(http.MethodGet, "/api/teams/"+team.ID, nil, http.StatusForbidden))
	assert.Equal(t, "not_found", stranger.errorCode(http.MethodGet, "/api/teams/missing", nil, http.StatusNotFound))

	// Joining grants read access but not management.
	stranger.call(http.MethodPost, "/api/teams/"+team.ID+"/members", struct{}{}, http.StatusCreated, nil)
	stranger.call(http.MethodGet, "/api/teams/"+team.ID, nil, http.StatusOK, nil)
	assert.Equal(t, "forbidden", stranger.errorCode(http.MethodPut, "/api/teams/"+team.ID+"/policy",
		map[string]any{"requiredOfficeDays": 1}, http.StatusForbidden))

	var roster struct {
		Members []MemberDTO `json:"members"`
	}
	owner.call(http.MethodGet, "/api/teams/"+team.ID+"/members", nil, http.StatusOK, &roster)
	assert.Len(t, roster.Members, 2)

	var mine struct {
		Teams []TeamDTO `json:"teams"`
	}
	stranger.call(http.MethodGet, "/api/teams", nil, http.StatusOK, &mine)
	require.Len(t, mine.Teams, 1)
	assert.Equal(t, team.ID, mine.Teams[0].ID)
}

func TestTeams_UpdatePolicy(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.client(t)
	mgr.register("mary@example.com", "Mary")
	team := mgr.createTeam("Research")

	var resp TeamResponse
	mgr.call(http.MethodPut, "/api/teams/"+team.ID+"/policy",
		map[string]any{"accrualModel": "streak_based", "streakBonusThreshold": 4, "streakBonusAmount": 2},
		http.StatusOK, &resp)
	assert.Equal(t, "streak_based", resp.Team.Policy.AccrualModel)
	require.NotNil(t, resp.Team.Policy.StreakBonusThreshold)
	assert.Equal(t, 4, *resp.Team.Policy.StreakBonusThreshold)
	assert.Contains(t, resp.Team.Policy.Description, "4 office days in a row")

	assert.Equal(t, "validation_error", mgr.errorCode(http.MethodPut, "/api/teams/"+team.ID+"/policy",
		map[string]any{"accrualModel": "lottery"}, http.StatusBadRequest))
}

func TestScenarioA_OverHTTP(t *testing.T) {
	// GIVEN: A 3-to-1 team and an employee with three office days
	// WHEN: The employee requests a remote day and the manager approves it
	// THEN: The balance goes 0 -> 1 -> 0 and the ledger shows both moves

	env := newTestEnv(t)
	mgr := env.client(t)
	mgr.register("mary@example.com", "Mary")
	team := mgr.createTeam("Platform")
	base := "/api/teams/" + team.ID

	emp := env.client(t)
	ada := emp.register("ada@example.com", "Ada")
	emp.call(http.MethodPost, base+"/members", struct{}{}, http.StatusCreated, nil)

	var att AttendanceResponse
	for _, day := range []string{"2025-03-03", "2025-03-04", "2025-03-05"} {
		mgr.call(http.MethodPost, base+"/attendance",
			AttendanceRequest{EmployeeID: ada.ID, Date: day, WorkType: "office"}, http.StatusOK, &att)
	}
	assert.Equal(t, 1.0, att.Balance.Current)
	assert.Equal(t, "forbidden", emp.errorCode(http.MethodPost, base+"/attendance",
		AttendanceRequest{Date: "2025-03-06", WorkType: "office"}, http.StatusForbidden))

	var bal BalanceDTO
	emp.call(http.MethodGet, base+"/balance", nil, http.StatusOK, &bal)
	assert.Equal(t, 1.0, bal.Current)
	assert.Equal(t, 3, bal.OfficeDays)

	assert.Equal(t, "insufficient_balance", emp.errorCode(http.MethodPost, base+"/requests",
		CreateRequestRequest{Date: "2025-03-07", DaysRequested: 2}, http.StatusBadRequest))

	var created requestEnvelope
	emp.call(http.MethodPost, base+"/requests",
		CreateRequestRequest{Date: "2025-03-07", DaysRequested: 1, Reason: "Dentist"}, http.StatusCreated, &created)
	assert.Equal(t, "pending", created.Request.Status)
	reqPath := "/api/requests/" + created.Request.ID

	assert.Equal(t, "forbidden", emp.errorCode(http.MethodPost, reqPath+"/approve", nil, http.StatusForbidden))

	var approved requestEnvelope
	mgr.call(http.MethodPost, reqPath+"/approve", nil, http.StatusOK, &approved)
	assert.Equal(t, "approved", approved.Request.Status)
	assert.Equal(t, "invalid_state_transition", mgr.errorCode(http.MethodPost, reqPath+"/approve", nil, http.StatusConflict))
	assert.Equal(t, "invalid_state_transition", emp.errorCode(http.MethodPost, reqPath+"/cancel", nil, http.StatusConflict))

	emp.call(http.MethodGet, base+"/balance", nil, http.StatusOK, &bal)
	assert.Equal(t, 0.0, bal.Current)
	assert.Equal(t, 1.0, bal.TotalEarned)
	assert.Equal(t, 1.0, bal.TotalUsed)

	var ledger struct {
		Transactions []TransactionDTO `json:"transactions"`
	}
	emp.call(http.MethodGet, base+"/transactions", nil, http.StatusOK, &ledger)
	require.Len(t, ledger.Transactions, 2)
	assert.Equal(t, 0.0, ledger.Transactions[1].BalanceAfter)

	// Managers may read an employee's balance; employees may not read others.
	mgr.call(http.MethodGet, base+"/balance/"+ada.ID, nil, http.StatusOK, &bal)
	assert.Equal(t, ada.ID, bal.EmployeeID)
	assert.Equal(t, "forbidden", emp.errorCode(http.MethodGet, base+"/transactions?employeeId="+team.CreatedBy, nil, http.StatusForbidden))

	// The redemption is effective on the requested day.
	emp.call(http.MethodGet, base+"/balance?asOf=2025-03-06", nil, http.StatusOK, &bal)
	assert.Equal(t, "2025-03-06", bal.AsOf)
	require.NotNil(t, bal.BalanceAsOf)
	assert.Equal(t, 1.0, *bal.BalanceAsOf)
	assert.Equal(t, 0.0, bal.Current)
	emp.call(http.MethodGet, base+"/balance?asOf=2025-03-07", nil, http.StatusOK, &bal)
	require.NotNil(t, bal.BalanceAsOf)
	assert.Equal(t, 0.0, *bal.BalanceAsOf)
	assert.Equal(t, "validation_error", emp.errorCode(http.MethodGet, base+"/balance?asOf=someday", nil, http.StatusBadRequest))

	status, pdf := emp.do(http.MethodGet, base+"/statement.pdf", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestRequests_RejectAndVisibility(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.client(t)
	mgr.register("mary@example.com", "Mary")
	team := mgr.createTeam("Platform")
	base := "/api/teams/" + team.ID

	emp := env.client(t)
	ada := emp.register("ada@example.com", "Ada")
	emp.call(http.MethodPost, base+"/members", struct{}{}, http.StatusCreated, nil)
	mgr.call(http.MethodPost, base+"/adjustments",
		AdjustmentRequest{EmployeeID: ada.ID, Delta: 2, Reason: "Onboarding bonus"}, http.StatusOK, nil)

	var created requestEnvelope
	emp.call(http.MethodPost, base+"/requests",
		CreateRequestRequest{Date: "2025-03-07", DaysRequested: 0.5}, http.StatusCreated, &created)

	var rejected requestEnvelope
	mgr.call(http.MethodPost, "/api/requests/"+created.Request.ID+"/reject", RejectRequest{Reason: "Release day"}, http.StatusOK, &rejected)
	assert.Equal(t, "rejected", rejected.Request.Status)
	assert.Equal(t, "Release day", rejected.Request.DecisionReason)

	// Another employee cannot see Ada's request.
	other := env.client(t)
	other.register("bob@example.com", "Bob")
	other.call(http.MethodPost, base+"/members", struct{}{}, http.StatusCreated, nil)
	assert.Equal(t, "not_found", other.errorCode(http.MethodGet, "/api/requests/"+created.Request.ID, nil, http.StatusNotFound))

	var list struct {
		Requests []RequestDTO `json:"requests"`
	}
	other.call(http.MethodGet, base+"/requests", nil, http.StatusOK, &list)
	assert.Empty(t, list.Requests)
	mgr.call(http.MethodGet, base+"/requests?status=rejected", nil, http.StatusOK, &list)
	assert.Len(t, list.Requests, 1)
	assert.Equal(t, "validation_error", mgr.errorCode(http.MethodGet, base+"/requests?status=maybe", nil, http.StatusBadRequest))

	var bal BalanceDTO
	emp.call(http.MethodGet, base+"/balance", nil, http.StatusOK, &bal)
	assert.Equal(t, 2.0, bal.Current)
}

func TestAdjustments_NoSelfGrantAndEscalation(t *testing.T) {
	// GIVEN: A team, its manager and an employee
	// WHEN: Users try to grant themselves days or to become admin at sign-up
	// THEN: Both are refused and high-limit requests still need a real admin

	env := newTestEnv(t)
	mgr := env.client(t)
	mary := mgr.register("mary@example.com", "Mary")
	team := mgr.createTeam("Platform")
	base := "/api/teams/" + team.ID

	emp := env.client(t)
	ada := emp.register("ada@example.com", "Ada")
	emp.call(http.MethodPost, base+"/members", struct{}{}, http.StatusCreated, nil)

	// Signing up as admin is rejected; a plain account has no access to the team.
	intruder := env.client(t)
	assert.Equal(t, "validation_error", intruder.errorCode(http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: "eve@example.com", Password: "password123", FirstName: "Eve", LastName: "Test", Role: "admin",
	}, http.StatusBadRequest))
	intruder.register("eve@example.com", "Eve")
	assert.Equal(t, "forbidden", intruder.errorCode(http.MethodPost, base+"/adjustments",
		AdjustmentRequest{EmployeeID: ada.ID, Delta: 50, Reason: "gift"}, http.StatusForbidden))

	// The manager cannot top up their own balance.
	assert.Equal(t, "forbidden", mgr.errorCode(http.MethodPost, base+"/adjustments",
		AdjustmentRequest{EmployeeID: mary.ID, Delta: 30, Reason: "self grant"}, http.StatusForbidden))
	var bal BalanceDTO
	mgr.call(http.MethodGet, base+"/balance", nil, http.StatusOK, &bal)
	assert.Equal(t, 0.0, bal.Current)

	// A request above the high limit needs the seeded admin.
	mgr.call(http.MethodPost, base+"/adjustments",
		AdjustmentRequest{EmployeeID: ada.ID, Delta: 5, Reason: "carried over"}, http.StatusOK, nil)
	var created requestEnvelope
	emp.call(http.MethodPost, base+"/requests",
		CreateRequestRequest{Date: "2025-03-10", DaysRequested: 4}, http.StatusCreated, &created)
	require.True(t, created.Request.RequiresHighLimitApproval)
	reqPath := "/api/requests/" + created.Request.ID
	assert.Equal(t, "forbidden", mgr.errorCode(http.MethodPost, reqPath+"/approve", nil, http.StatusForbidden))

	var approved requestEnvelope
	env.admin(t).call(http.MethodPost, reqPath+"/approve", nil, http.StatusOK, &approved)
	assert.Equal(t, "approved", approved.Request.Status)
}

func TestVotes_OverHTTP(t *testing.T) {
	// GIVEN: A team requiring 3 office days
	// WHEN: An employee toggles 3 weekdays, tries a 4th, then submits
	// THEN: The 4th is rejected, submission locks the set, the tally picks the 3 days

	env := newTestEnv(t)
	c := env.client(t)
	c.register("ada@example.com", "Ada")
	team := c.createTeam("Platform")
	base := "/api/teams/" + team.ID + "/votes"

	var set VoteSetDTO
	for _, day := range []string{"2025-03-10", "2025-03-12", "2025-03-11"} {
		c.call(http.MethodPost, base+"/toggle", ToggleVoteRequest{Date: day}, http.StatusOK, &set)
	}
	assert.Equal(t, []string{"2025-03-10", "2025-03-11", "2025-03-12"}, set.VotedDays)
	assert.Equal(t, 3, set.RequiredDays)

	assert.Equal(t, "vote_limit_exceeded", c.errorCode(http.MethodPost, base+"/toggle", ToggleVoteRequest{Date: "2025-03-13"}, http.StatusBadRequest))
	assert.Equal(t, "validation_error", c.errorCode(http.MethodPost, base+"/toggle", ToggleVoteRequest{Date: "2025-03-15"}, http.StatusBadRequest))

	c.call(http.MethodPost, base+"/submit", WeekRequest{WeekStart: "2025-03-12"}, http.StatusOK, &set)
	assert.True(t, set.Submitted)
	assert.Equal(t, "2025-03-10", set.WeekStart)
	assert.Equal(t, "invalid_state_transition", c.errorCode(http.MethodPost, base+"/toggle", ToggleVoteRequest{Date: "2025-03-10"}, http.StatusConflict))

	var anchors AnchorDaysDTO
	c.call(http.MethodGet, base+"/anchor-days?week=2025-03-10", nil, http.StatusOK, &anchors)
	assert.Equal(t, 1, anchors.Submitted)
	assert.Equal(t, []string{"2025-03-10", "2025-03-11", "2025-03-12"}, anchors.AnchorDays)

	c.call(http.MethodPost, base+"/reset", WeekRequest{WeekStart: "2025-03-10"}, http.StatusOK, &set)
	assert.False(t, set.Submitted)
	assert.Empty(t, set.VotedDays)

	// Current week by default.
	c.call(http.MethodGet, base, nil, http.StatusOK, &set)
	assert.Equal(t, "2025-03-03", set.WeekStart)
}

func TestPulse_OverHTTP(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.register("ada@example.com", "Ada")

	assert.Equal(t, "validation_error", c.errorCode(http.MethodPost, "/api/pulse", PulseRequest{Rating: 6, Mood: "great"}, http.StatusBadRequest))
	c.call(http.MethodPost, "/api/pulse", PulseRequest{Rating: 4, Mood: "focused", WorkLocation: "office"}, http.StatusCreated, nil)

	var list struct {
		Pulses []struct {
			Rating int    `json:"rating"`
			Mood   string `json:"mood"`
		} `json:"pulses"`
	}
	c.call(http.MethodGet, "/api/pulse", nil, http.StatusOK, &list)
	require.Len(t, list.Pulses, 1)
	assert.Equal(t, 4, list.Pulses[0].Rating)
}

func TestCheckIn_OverHTTP(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.register("ada@example.com", "Ada")
	team := c.createTeam("Platform")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("location", "HQ"))
	require.NoError(t, mw.WriteField("workType", "office"))
	require.NoError(t, mw.WriteField("teamId", team.ID))
	fw, err := mw.CreateFormFile("photo", "me.png")
	require.NoError(t, err)
	_, err = fw.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/checkin", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, raw := c.send(req)
	require.Equal(t, http.StatusCreated, status, string(raw))

	var resp struct {
		CheckIn struct {
			PhotoPath string `json:"photo_path"`
			Date      string `json:"date"`
		} `json:"checkin"`
		Balance *BalanceDTO `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "2025-03-05", resp.CheckIn.Date)
	require.NotNil(t, resp.Balance)
	assert.Equal(t, 1, resp.Balance.OfficeDays)
	require.True(t, strings.HasPrefix(resp.CheckIn.PhotoPath, "/uploads/"))

	status, _ = c.do(http.MethodGet, resp.CheckIn.PhotoPath, nil)
	assert.Equal(t, http.StatusOK, status)

	// Missing photo
	var empty bytes.Buffer
	mw = multipart.NewWriter(&empty)
	require.NoError(t, mw.WriteField("location", "HQ"))
	require.NoError(t, mw.Close())
	req, err = http.NewRequest(http.MethodPost, env.server.URL+"/api/checkin", &empty)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, _ = c.send(req)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestScenarios_Load(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t)

	emp := env.client(t)
	emp.register("ada@example.com", "Ada")
	assert.Equal(t, "forbidden", emp.errorCode(http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "three-to-one"}, http.StatusForbidden))
	assert.Equal(t, "validation_error", admin.errorCode(http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "nope"}, http.StatusBadRequest))

	admin.call(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "three-to-one"}, http.StatusOK, nil)

	ada := env.client(t)
	ada.call(http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@hibridge.local", Password: scenarioPassword}, http.StatusOK, nil)
	var mine struct {
		Teams []TeamDTO `json:"teams"`
	}
	ada.call(http.MethodGet, "/api/teams", nil, http.StatusOK, &mine)
	require.Len(t, mine.Teams, 1)

	var bal BalanceDTO
	ada.call(http.MethodGet, "/api/teams/"+mine.Teams[0].ID+"/balance", nil, http.StatusOK, &bal)
	assert.Equal(t, 1.0, bal.TotalEarned)
	assert.Equal(t, 0.0, bal.Current)

	// The old accounts are gone.
	emp.call(http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@example.com", Password: "password123"}, http.StatusUnauthorized, nil)
}

func TestPush_Subscriptions(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.register("ada@example.com", "Ada")

	var key map[string]string
	c.call(http.MethodGet, "/api/push/vapid-key", nil, http.StatusOK, &key)
	assert.Equal(t, "test-public-key", key["publicKey"])

	sub := PushSubscriptionRequest{Endpoint: "https://push.example.com/abc"}
	sub.Keys.P256DH = "p256"
	sub.Keys.Auth = "auth"
	c.call(http.MethodPut, "/api/push/subscriptions", sub, http.StatusOK, nil)

	var list struct {
		Endpoints []string `json:"endpoints"`
	}
	c.call(http.MethodGet, "/api/push/subscriptions", nil, http.StatusOK, &list)
	assert.Equal(t, []string{"https://push.example.com/abc"}, list.Endpoints)

	c.call(http.MethodDelete, "/api/push/subscriptions", UnsubscribeRequest{Endpoint: sub.Endpoint}, http.StatusOK, nil)
	c.call(http.MethodGet, "/api/push/subscriptions", nil, http.StatusOK, &list)
	assert.Empty(t, list.Endpoints)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{generic.NewValidationError("f", "bad"), http.StatusBadRequest, "validation_error"},
		{&generic.InsufficientBalanceError{}, http.StatusBadRequest, "insufficient_balance"},
		{&generic.VoteLimitError{Limit: 3}, http.StatusBadRequest, "vote_limit_exceeded"},
		{fmt.Errorf("wrapped: %w", generic.ErrAuth), http.StatusUnauthorized, "auth_error"},
		{generic.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("team x: %w", generic.ErrNotFound), http.StatusNotFound, "not_found"},
		{&generic.InvalidTransitionError{Subject: "request", From: "approved", Action: "approve"}, http.StatusConflict, "invalid_state_transition"},
		{generic.ErrConcurrentModification, http.StatusConflict, "conflict"},
		{generic.Persist("save", errors.New("disk full")), http.StatusInternalServerError, "persistence_error"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2"))
}

func TestIPRateLimiter_IgnoresForwardedHeader(t *testing.T) {
	// GIVEN: A router that does not trust proxies, allowing one request per client
	// WHEN: The client changes X-Forwarded-For on every request
	// THEN: It is still limited by its connection address

	h := NewHandler(Deps{Sessions: SessionConfig{Secret: "test-secret"}})
	router := NewRouter(h, RouterConfig{RateLimitPerSec: 0.001, RateLimitBurst: 1})

	call := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("2.2.2.2"))
	assert.Equal(t, http.StatusTooManyRequests, call("3.3.3.3"))
}

func TestIPRateLimiter_IdleBucketsExpire(t *testing.T) {
	limiter := newIPRateLimiter(0.001, 1, 50*time.Millisecond)

	assert.True(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.False(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.Equal(t, 1, limiter.limiters.ItemCount())

	time.Sleep(120 * time.Millisecond)
	limiter.limiters.DeleteExpired()
	assert.Equal(t, 0, limiter.limiters.ItemCount())
	assert.True(t, limiter.GetLimiter("10.0.0.1").Allow())
}
