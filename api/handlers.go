/*
handlers.go - HTTP API handlers for Hi-Bridge

PURPOSE:
  Exposes the directory, rewards, voting and check-in services via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain packages. No business rule lives here.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Create account {user}
    POST   /api/auth/login             Start session (cookie) {user}
    POST   /api/auth/logout            End session {message}
    GET    /api/auth/me                Current user {user}

  Activity:
    POST   /api/pulse                  Record a mood pulse
    GET    /api/pulse                  Own pulses, newest first
    POST   /api/checkin                Multipart photo check-in
    GET    /api/checkin                Own check-ins, newest first

  Teams, balances, requests, votes:
    See teams.go

  Health:
    GET    /api/health                 {status, timestamp}

ARCHITECTURE:
  Handler struct holds all dependencies. Team-scoped handlers resolve the
  caller's effective role with h.actor(): the team membership role, or admin
  for global admins. Non-members get 403.

ERROR HANDLING:
  Every error goes through h.writeError, which maps the generic error
  taxonomy to a status and a stable code:
  - 400: validation, insufficient balance, vote limit
  - 401: missing or invalid session, bad credentials
  - 403: role or membership missing
  - 404: record not found
  - 409: invalid state transition, concurrent modification
  - 500: persistence and everything unclassified

SEE ALSO:
  - dto.go: Request/response data structures
  - teams.go: Team-scoped handlers
  - middleware.go: Sessions, logging, rate limiting
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/checkin"
	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/factory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
	"github.com/hibridge/engine/rewards"
	"github.com/hibridge/engine/voting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes the store. Only used by demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Deps are the services the API delegates to.
type Deps struct {
	Directory      *directory.Directory
	Rewards        *rewards.Service
	Votes          *voting.Aggregator
	CheckIns       *checkin.Service
	Subscriptions  *notify.Subscriptions
	Store          Resetter
	Sessions       SessionConfig
	VAPIDPublicKey string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	dir      *directory.Directory
	rewards  *rewards.Service
	votes    *voting.Aggregator
	checkins *checkin.Service
	subs     *notify.Subscriptions
	store    Resetter
	policies *factory.PolicyFactory
	sessions SessionConfig
	vapidKey string
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sessions.TTL == 0 {
		d.Sessions.TTL = auth.SessionTTL
	}
	if d.Sessions.CookieName == "" {
		d.Sessions.CookieName = "hibridge_session"
	}
	return &Handler{
		dir:      d.Directory,
		rewards:  d.Rewards,
		votes:    d.Votes,
		checkins: d.CheckIns,
		subs:     d.Subscriptions,
		store:    d.Store,
		policies: factory.NewPolicyFactory(),
		sessions: d.Sessions,
		vapidKey: d.VAPIDPublicKey,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   d.Logger.With("component", "api"),
		now:      d.Now,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates an account and starts a session.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.dir.CreateUser(r.Context(), directory.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.startSession(w, user); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{User: toUserDTO(user)})
}

// Login verifies credentials and sets the session cookie.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.dir.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, generic.ErrNotFound) {
		// Same answer as a wrong password.
		h.writeError(w, r, fmt.Errorf("%w: invalid email or password", generic.ErrAuth))
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.startSession(w, user); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: toUserDTO(user)})
}

// Logout clears the session cookie.
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSession(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Me returns the logged-in user.
// GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: toUserDTO(user)})
}

func (h *Handler) startSession(w http.ResponseWriter, u directory.User) error {
	token, err := auth.GenerateToken(h.sessions.Secret, auth.Claims{
		UserID:    u.ID,
		UserEmail: u.Email,
		Role:      u.Role,
	}, h.sessions.TTL)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	h.setSession(w, token)
	return nil
}

// currentUser loads the session's user; a deleted user is an auth error.
func (h *Handler) currentUser(ctx context.Context) (directory.User, error) {
	claims := claimsFrom(ctx)
	if claims == nil {
		return directory.User{}, fmt.Errorf("%w: not authenticated", generic.ErrAuth)
	}
	user, err := h.dir.UserByID(ctx, claims.UserID)
	if errors.Is(err, generic.ErrNotFound) {
		return directory.User{}, fmt.Errorf("%w: session user no longer exists", generic.ErrAuth)
	}
	return user, err
}

// =============================================================================
// PULSE HANDLERS
// =============================================================================

// CreatePulse records a mood pulse.
// POST /api/pulse
func (h *Handler) CreatePulse(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := auth.Require(claims.Role, auth.PermPulseWrite); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req PulseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	pulse, err := h.dir.AddPulse(r.Context(), directory.Pulse{
		EmployeeID:   generic.EmployeeID(claims.UserID),
		Rating:       req.Rating,
		Mood:         strings.TrimSpace(req.Mood),
		Feedback:     strings.TrimSpace(req.Feedback),
		WorkLocation: req.WorkLocation,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PulseResponse{Pulse: pulse})
}

// ListPulses returns the caller's pulses.
// GET /api/pulse
func (h *Handler) ListPulses(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	pulses, err := h.dir.Pulses(r.Context(), generic.EmployeeID(claims.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pulses": pulses})
}

// =============================================================================
// CHECK-IN HANDLERS
// =============================================================================

// CreateCheckIn accepts a multipart check-in with a photo.
// POST /api/checkin
func (h *Handler) CreateCheckIn(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := auth.Require(claims.Role, auth.PermCheckIn); err != nil {
		h.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, checkin.MaxPhotoBytes+1<<20)
	if err := r.ParseMultipartForm(checkin.MaxPhotoBytes); err != nil {
		h.writeError(w, r, generic.NewValidationError("photo", "multipart form with a photo up to 5MB is required"))
		return
	}
	sub := checkin.Submission{
		EmployeeID: generic.EmployeeID(claims.UserID),
		TeamID:     generic.TeamID(r.FormValue("teamId")),
		Location:   r.FormValue("location"),
		WorkType:   r.FormValue("workType"),
		Notes:      r.FormValue("notes"),
	}
	var err error
	if sub.Latitude, err = optionalFloat(r.FormValue("latitude"), "latitude"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if sub.Longitude, err = optionalFloat(r.FormValue("longitude"), "longitude"); err != nil {
		h.writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		h.writeError(w, r, generic.NewValidationError("photo", "is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, checkin.MaxPhotoBytes+1))
	if err != nil {
		h.writeError(w, r, generic.NewValidationError("photo", "could not be read"))
		return
	}
	sub.Photo = checkin.Photo{Filename: header.Filename, Data: data}

	res, err := h.checkins.CheckIn(r.Context(), sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := CheckInResponse{CheckIn: res.CheckIn, AccrualError: res.AccrualError}
	if res.Balance != nil {
		policy, err := h.dir.TeamPolicy(r.Context(), res.Balance.TeamID)
		if err == nil {
			dto := toBalanceDTO(*res.Balance, policy)
			resp.Balance = &dto
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListCheckIns returns the caller's check-ins.
// GET /api/checkin
func (h *Handler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	list, err := h.dir.CheckIns(r.Context(), generic.EmployeeID(claims.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkins": list})
}

func optionalFloat(s, field string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, generic.NewValidationError(field, "must be a number")
	}
	return &f, nil
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into v and runs its validate tags.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	// An empty body decodes as the zero value; validate tags catch required fields.
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return generic.NewValidationError("body", "invalid JSON request body")
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return generic.NewValidationError(lowerFirst(fe.Field()), validationMessage(fe))
		}
		return generic.NewValidationError("body", err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// statusFor maps the error taxonomy to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, generic.ErrVoteLimitExceeded):
		return http.StatusBadRequest, "vote_limit_exceeded"
	case errors.Is(err, generic.ErrAuth):
		return http.StatusUnauthorized, "auth_error"
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, generic.ErrConcurrentModification), errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "persistence_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
