package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/generic"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("super-secret")
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "super-secret"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong-password"), generic.ErrAuth)
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestGenerateAndParseToken(t *testing.T) {
	claims := Claims{UserID: "u1", UserEmail: "ada@example.com", Role: RoleManager}

	token, err := GenerateToken("test-secret", claims, time.Hour)
	require.NoError(t, err)

	parsed, err := ParseToken("test-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "u1", parsed.UserID)
	assert.Equal(t, "ada@example.com", parsed.UserEmail)
	assert.Equal(t, RoleManager, parsed.Role)
}

func TestParseToken_WrongSecretOrExpired(t *testing.T) {
	token, err := GenerateToken("secret-a", Claims{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken("secret-b", token)
	assert.ErrorIs(t, err, generic.ErrAuth)

	expired, err := GenerateToken("secret-a", Claims{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("secret-a", expired)
	assert.ErrorIs(t, err, generic.ErrAuth)
}

func TestRolePermissionsSubset(t *testing.T) {
	allowed := map[string]struct{}{}
	for _, perm := range DefaultPermissions {
		allowed[perm] = struct{}{}
	}

	for role, perms := range RolePermissions {
		require.NotEmpty(t, perms, "role %s has no permissions", role)
		for _, perm := range perms {
			_, ok := allowed[perm]
			assert.True(t, ok, "role %s has unknown permission %s", role, perm)
		}
	}
}

func TestApprovalPermissions(t *testing.T) {
	assert.False(t, Can(RoleEmployee, PermRequestsApprove))
	assert.True(t, Can(RoleManager, PermRequestsApprove))
	assert.False(t, Can(RoleManager, PermApproveHighLimit))
	assert.True(t, Can(RoleAdmin, PermApproveHighLimit))

	assert.ErrorIs(t, Require(RoleEmployee, PermTeamsManage), generic.ErrForbidden)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, r)

	_, err = ParseRole("superuser")
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Admins are seeded, never self-registered.
	_, err = ParseRole("admin")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
