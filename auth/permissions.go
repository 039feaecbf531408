package auth

import (
	"fmt"

	"github.com/hibridge/engine/generic"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

const (
	PermCheckIn            = "checkin.write"
	PermPulseWrite         = "pulse.write"
	PermVote               = "votes.write"
	PermRequestsCreate     = "requests.create"
	PermRequestsApprove    = "requests.approve"
	PermApproveHighLimit   = "requests.approve_high_limit"
	PermTeamsCreate        = "teams.create"
	PermTeamsManage        = "teams.manage"
	PermTeamsRead          = "teams.read"
	PermBalancesReadOthers = "balances.read_others"
	PermAttendanceRecord   = "attendance.record_others"
	PermScenarios          = "admin.scenarios"
)

var DefaultPermissions = []string{
	PermCheckIn,
	PermPulseWrite,
	PermVote,
	PermRequestsCreate,
	PermRequestsApprove,
	PermApproveHighLimit,
	PermTeamsCreate,
	PermTeamsManage,
	PermTeamsRead,
	PermBalancesReadOthers,
	PermAttendanceRecord,
	PermScenarios,
}

var RolePermissions = map[Role][]string{
	RoleEmployee: {
		PermCheckIn,
		PermPulseWrite,
		PermVote,
		PermRequestsCreate,
		PermTeamsCreate,
		PermTeamsRead,
	},
	RoleManager: {
		PermCheckIn,
		PermPulseWrite,
		PermVote,
		PermRequestsCreate,
		PermRequestsApprove,
		PermTeamsCreate,
		PermTeamsManage,
		PermTeamsRead,
		PermBalancesReadOthers,
		PermAttendanceRecord,
	},
	RoleAdmin: DefaultPermissions,
}

// ParseRole maps an optional registration role; empty means employee.
// Admin accounts are seeded at startup and cannot be registered.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleEmployee, nil
	case RoleEmployee, RoleManager:
		return Role(s), nil
	}
	return "", generic.NewValidationError("role", fmt.Sprintf("unknown role %q", s))
}

// Can reports whether role grants permission.
func Can(role Role, permission string) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// Require returns ErrForbidden unless role grants permission.
func Require(role Role, permission string) error {
	if !Can(role, permission) {
		return fmt.Errorf("%w: role %s lacks %s", generic.ErrForbidden, role, permission)
	}
	return nil
}
