package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/generic/store"
	"github.com/hibridge/engine/rewards"
)

func newDirectory(t *testing.T) (*Directory, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	return New(mem, nil), mem
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	u, err := dir.CreateUser(ctx, User{Email: " Ada@Example.com ", FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, auth.RoleEmployee, u.Role)

	_, err = dir.CreateUser(ctx, User{Email: "ada@example.com"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	byID, err := dir.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, byID.Email)

	_, err = dir.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestSeedAdmin(t *testing.T) {
	// GIVEN: An empty directory
	// WHEN: Seeding the admin twice, then seeding over an employee's email
	// THEN: One admin exists and the employee account is left alone

	dir, _ := newDirectory(t)
	ctx := context.Background()

	first, err := dir.SeedAdmin(ctx, "Root@Example.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, first.Role)

	again, err := dir.SeedAdmin(ctx, "root@example.com", "other-hash")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "hash", again.PasswordHash)

	_, err = dir.CreateUser(ctx, User{Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = dir.SeedAdmin(ctx, "ada@example.com", "hash")
	assert.Error(t, err)
	ada, err := dir.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleEmployee, ada.Role)
}

func TestCreateTeam_CreatorBecomesManager(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()
	creator, err := dir.CreateUser(ctx, User{Email: "lead@example.com"})
	require.NoError(t, err)

	team, err := dir.CreateTeam(ctx, creator, "Platform", "Infra folks")
	require.NoError(t, err)
	assert.Equal(t, rewards.DefaultPolicy(), team.Policy)

	m, err := dir.Membership(ctx, team.ID, creator.EmployeeID())
	require.NoError(t, err)
	assert.Equal(t, auth.RoleManager, m.Role)

	_, err = dir.CreateTeam(ctx, creator, "  ", "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestUpdatePolicy_RefreshesCache(t *testing.T) {
	// GIVEN: A cached team
	// WHEN: Its policy is updated
	// THEN: TeamPolicy returns the new policy immediately

	dir, _ := newDirectory(t)
	ctx := context.Background()
	creator, err := dir.CreateUser(ctx, User{Email: "lead@example.com"})
	require.NoError(t, err)
	team, err := dir.CreateTeam(ctx, creator, "Platform", "")
	require.NoError(t, err)

	_, err = dir.TeamPolicy(ctx, team.ID)
	require.NoError(t, err)

	updated, err := dir.UpdatePolicy(ctx, team.ID, rewards.StreakPolicy(2, 4, 1))
	require.NoError(t, err)
	assert.Greater(t, updated.Version, team.Version)

	p, err := dir.TeamPolicy(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, rewards.ModelStreakBased, p.AccrualModel)

	bad := rewards.DefaultPolicy()
	bad.RequiredOfficeDays = 0
	_, err = dir.UpdatePolicy(ctx, team.ID, bad)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSetOffice(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()
	creator, err := dir.CreateUser(ctx, User{Email: "lead@example.com"})
	require.NoError(t, err)
	team, err := dir.CreateTeam(ctx, creator, "Platform", "")
	require.NoError(t, err)

	updated, err := dir.SetOffice(ctx, team.ID, &Office{Name: "HQ", Latitude: 52.52, Longitude: 13.405, RadiusMeters: 200})
	require.NoError(t, err)
	require.NotNil(t, updated.Office)

	_, err = dir.SetOffice(ctx, team.ID, &Office{Latitude: 91})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = dir.SetOffice(ctx, "missing", nil)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMembers(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()
	creator, err := dir.CreateUser(ctx, User{Email: "lead@example.com"})
	require.NoError(t, err)
	team, err := dir.CreateTeam(ctx, creator, "Platform", "")
	require.NoError(t, err)

	first, err := dir.AddMember(ctx, team.ID, "emp-1", auth.RoleEmployee)
	require.NoError(t, err)
	again, err := dir.AddMember(ctx, team.ID, "emp-1", auth.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, first.Role, again.Role)

	members, err := dir.Members(ctx, team.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	teams, err := dir.TeamsOf(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, team.ID, teams[0].TeamID)

	_, err = dir.AddMember(ctx, "missing", "emp-1", auth.RoleEmployee)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestPulses(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	_, err := dir.AddPulse(ctx, Pulse{EmployeeID: "emp-1", Rating: 6, Mood: "great"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = dir.AddPulse(ctx, Pulse{EmployeeID: "emp-1", Rating: 4, Mood: "good", WorkLocation: "office"})
	require.NoError(t, err)
	_, err = dir.AddPulse(ctx, Pulse{EmployeeID: "emp-2", Rating: 2, Mood: "tired"})
	require.NoError(t, err)

	list, err := dir.Pulses(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].Rating)
}

func TestCheckIns(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	c, err := dir.AddCheckIn(ctx, CheckIn{EmployeeID: "emp-1", Location: "HQ", WorkType: "office"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.Date.IsZero())

	list, err := dir.CheckIns(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	none, err := dir.CheckIns(ctx, "emp-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
