/*
Package directory stores users, teams and memberships, plus the pulse and
check-in activity records, in the flat KV namespace.

PURPOSE:
  Everything the HTTP surface needs that is not a balance, a request or a
  vote. It also implements rewards.PolicySource: the accrual engine, the
  request workflow and the voting aggregator read team policies from here.

KEY NAMESPACE:
  user:<email>              User (email lower-cased)
  userid:<id>               email index
  team:<id>                 Team (policy + office geofence)
  member:<team>:<employee>  Membership
  pulse:<id>                Pulse
  checkin:<id>              CheckIn

CACHING:
  Team lookups are cached in-process (go-cache, 5 minute TTL). Every team
  write goes through this package and refreshes the cache entry.

SEE ALSO:
  - activity.go: Pulses and check-ins
  - rewards/service.go: PolicySource consumer
*/
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/rewards"
)

const (
	teamCacheTTL     = 5 * time.Minute
	teamCacheCleanup = 10 * time.Minute
)

// =============================================================================
// RECORDS
// =============================================================================

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"password_hash"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Role          auth.Role `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u User) EmployeeID() generic.EmployeeID { return generic.EmployeeID(u.ID) }

// Office is a team's check-in location. RadiusMeters 0 disables the geofence.
type Office struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

type Team struct {
	ID          generic.TeamID     `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Policy      rewards.TeamPolicy `json:"policy"`
	Office      *Office            `json:"office,omitempty"`
	CreatedBy   string             `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`

	Version int64 `json:"-"`
}

type Membership struct {
	TeamID     generic.TeamID     `json:"team_id"`
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Role       auth.Role          `json:"role"`
	JoinedAt   time.Time          `json:"joined_at"`
}

func userKey(email string) string      { return "user:" + normalizeEmail(email) }
func userIDKey(id string) string       { return "userid:" + id }
func teamKey(id generic.TeamID) string { return fmt.Sprintf("team:%s", id) }
func memberKey(teamID generic.TeamID, employeeID generic.EmployeeID) string {
	return fmt.Sprintf("member:%s:%s", teamID, employeeID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// DIRECTORY
// =============================================================================

type Directory struct {
	kv     generic.KV
	teams  *cache.Cache
	locks  *generic.KeyedMutex
	now    func() time.Time
	logger *slog.Logger
}

func New(kv generic.KV, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		kv:     kv,
		teams:  cache.New(teamCacheTTL, teamCacheCleanup),
		locks:  generic.NewKeyedMutex(),
		now:    time.Now,
		logger: logger.With("component", "directory"),
	}
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser stores a new user. A taken email is a ValidationError.
func (d *Directory) CreateUser(ctx context.Context, u User) (User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = auth.RoleEmployee
	}
	u.CreatedAt = d.now().UTC()

	if _, err := generic.PutJSON(ctx, d.kv, userKey(u.Email), u, 0); err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			return User{}, generic.NewValidationError("email", "is already registered")
		}
		return User{}, generic.Persist("create user", err)
	}
	if _, err := generic.SetJSON(ctx, d.kv, userIDKey(u.ID), u.Email); err != nil {
		return User{}, generic.Persist("index user", err)
	}
	d.logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// SeedAdmin creates the global admin account. An existing admin with the
// same email is returned as is; any other existing account is an error.
func (d *Directory) SeedAdmin(ctx context.Context, email, passwordHash string) (User, error) {
	u, err := d.UserByEmail(ctx, email)
	switch {
	case err == nil && u.Role == auth.RoleAdmin:
		return u, nil
	case err == nil:
		return User{}, fmt.Errorf("seed admin: %s is registered as %s", u.Email, u.Role)
	case !errors.Is(err, generic.ErrNotFound):
		return User{}, err
	}
	return d.CreateUser(ctx, User{
		Email:         email,
		PasswordHash:  passwordHash,
		FirstName:     "Admin",
		Role:          auth.RoleAdmin,
		EmailVerified: true,
	})
}

func (d *Directory) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	if _, err := generic.GetJSON(ctx, d.kv, userKey(email), &u); err != nil {
		if generic.IsNotFound(err) {
			return User{}, fmt.Errorf("user %s: %w", normalizeEmail(email), generic.ErrNotFound)
		}
		return User{}, generic.Persist("load user", err)
	}
	return u, nil
}

func (d *Directory) UserByID(ctx context.Context, id string) (User, error) {
	var email string
	if _, err := generic.GetJSON(ctx, d.kv, userIDKey(id), &email); err != nil {
		if generic.IsNotFound(err) {
			return User{}, fmt.Errorf("user %s: %w", id, generic.ErrNotFound)
		}
		return User{}, generic.Persist("load user index", err)
	}
	return d.UserByEmail(ctx, email)
}

// =============================================================================
// TEAMS
// =============================================================================

// CreateTeam stores a team with the default policy; the creator becomes its manager.
func (d *Directory) CreateTeam(ctx context.Context, creator User, name, description string) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, generic.NewValidationError("name", "is required")
	}
	t := Team{
		ID:          generic.TeamID(uuid.NewString()),
		Name:        name,
		Description: strings.TrimSpace(description),
		Policy:      rewards.DefaultPolicy(),
		CreatedBy:   creator.ID,
		CreatedAt:   d.now().UTC(),
	}
	v, err := generic.PutJSON(ctx, d.kv, teamKey(t.ID), t, 0)
	if err != nil {
		return Team{}, generic.Persist("create team", err)
	}
	t.Version = v
	d.teams.Set(string(t.ID), t, cache.DefaultExpiration)

	if _, err := d.AddMember(ctx, t.ID, creator.EmployeeID(), auth.RoleManager); err != nil {
		return Team{}, err
	}
	d.logger.Info("team created", "team_id", t.ID, "created_by", creator.ID)
	return t, nil
}

// FlushCache drops every cached team. Call after wiping the store.
func (d *Directory) FlushCache() {
	d.teams.Flush()
}

// Team returns a team, from cache when possible.
func (d *Directory) Team(ctx context.Context, id generic.TeamID) (Team, error) {
	if cached, ok := d.teams.Get(string(id)); ok {
		return cached.(Team), nil
	}
	var t Team
	v, err := generic.GetJSON(ctx, d.kv, teamKey(id), &t)
	if err != nil {
		if generic.IsNotFound(err) {
			return Team{}, fmt.Errorf("team %s: %w", id, generic.ErrNotFound)
		}
		return Team{}, generic.Persist("load team", err)
	}
	t.Version = v
	d.teams.Set(string(id), t, cache.DefaultExpiration)
	return t, nil
}

// TeamPolicy implements rewards.PolicySource.
func (d *Directory) TeamPolicy(ctx context.Context, id generic.TeamID) (rewards.TeamPolicy, error) {
	t, err := d.Team(ctx, id)
	if err != nil {
		return rewards.TeamPolicy{}, err
	}
	return t.Policy, nil
}

// UpdatePolicy replaces the team policy after validating it.
func (d *Directory) UpdatePolicy(ctx context.Context, id generic.TeamID, p rewards.TeamPolicy) (Team, error) {
	if err := p.Validate(); err != nil {
		return Team{}, err
	}
	return d.updateTeam(ctx, id, func(t *Team) { t.Policy = p })
}

// SetOffice configures the team's check-in location; nil removes it.
func (d *Directory) SetOffice(ctx context.Context, id generic.TeamID, office *Office) (Team, error) {
	if office != nil {
		if office.Latitude < -90 || office.Latitude > 90 || office.Longitude < -180 || office.Longitude > 180 {
			return Team{}, generic.NewValidationError("office", "coordinates out of range")
		}
		if office.RadiusMeters < 0 {
			return Team{}, generic.NewValidationError("radius_meters", "must not be negative")
		}
	}
	return d.updateTeam(ctx, id, func(t *Team) { t.Office = office })
}

func (d *Directory) updateTeam(ctx context.Context, id generic.TeamID, fn func(*Team)) (Team, error) {
	unlock := d.locks.Lock(teamKey(id))
	defer unlock()

	var result Team
	err := generic.RetryOnConflict(ctx, func() error {
		// Always read through to the store; the cached copy may be stale.
		d.teams.Delete(string(id))
		t, err := d.Team(ctx, id)
		if err != nil {
			return err
		}
		fn(&t)
		v, err := generic.PutJSON(ctx, d.kv, teamKey(id), t, t.Version)
		if err != nil {
			return generic.Persist("save team", err)
		}
		t.Version = v
		result = t
		return nil
	})
	if err != nil {
		d.teams.Delete(string(id))
		return Team{}, err
	}
	d.teams.Set(string(id), result, cache.DefaultExpiration)
	return result, nil
}

// =============================================================================
// MEMBERSHIPS
// =============================================================================

// AddMember joins employeeID to the team. Joining twice returns the existing membership.
func (d *Directory) AddMember(ctx context.Context, teamID generic.TeamID, employeeID generic.EmployeeID, role auth.Role) (Membership, error) {
	if _, err := d.Team(ctx, teamID); err != nil {
		return Membership{}, err
	}
	m := Membership{TeamID: teamID, EmployeeID: employeeID, Role: role, JoinedAt: d.now().UTC()}
	if _, err := generic.PutJSON(ctx, d.kv, memberKey(teamID, employeeID), m, 0); err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			return d.Membership(ctx, teamID, employeeID)
		}
		return Membership{}, generic.Persist("add member", err)
	}
	return m, nil
}

func (d *Directory) Membership(ctx context.Context, teamID generic.TeamID, employeeID generic.EmployeeID) (Membership, error) {
	var m Membership
	if _, err := generic.GetJSON(ctx, d.kv, memberKey(teamID, employeeID), &m); err != nil {
		if generic.IsNotFound(err) {
			return Membership{}, fmt.Errorf("%s is not a member of team %s: %w", employeeID, teamID, generic.ErrNotFound)
		}
		return Membership{}, generic.Persist("load membership", err)
	}
	return m, nil
}

// Members lists a team's memberships ordered by join time.
func (d *Directory) Members(ctx context.Context, teamID generic.TeamID) ([]Membership, error) {
	ms, err := generic.ListJSON[Membership](ctx, d.kv, fmt.Sprintf("member:%s:", teamID))
	if err != nil {
		return nil, generic.Persist("list members", err)
	}
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].JoinedAt.Before(ms[j].JoinedAt) })
	return ms, nil
}

// TeamsOf lists the memberships of one employee across all teams.
func (d *Directory) TeamsOf(ctx context.Context, employeeID generic.EmployeeID) ([]Membership, error) {
	all, err := generic.ListJSON[Membership](ctx, d.kv, "member:")
	if err != nil {
		return nil, generic.Persist("list memberships", err)
	}
	var out []Membership
	for _, m := range all {
		if m.EmployeeID == employeeID {
			out = append(out, m)
		}
	}
	return out, nil
}
