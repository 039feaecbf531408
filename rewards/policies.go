/*
policies.go - Pre-built team policies

PURPOSE:
  Ready-to-use TeamPolicy values. New teams start from DefaultPolicy;
  the presets are also used by the demo scenarios and tests.

AVAILABLE POLICIES:
  DefaultPolicy:      3 office days, simple 3-to-1, high limit above 3 days
  ThreeToOnePolicy:   simple_3_to_1 with a custom weekly requirement
  RatioPolicy:        ratio_based with any office-to-remote ratio
  StreakPolicy:       streak_based, bonus after N consecutive office days

HIGH LIMIT:
  Every preset flags requests above DefaultHighLimitDays for senior
  approval. The weekly limit is off (0) unless set explicitly.

SEE ALSO:
  - factory/policy.go: JSON-based policy creation
  - describe.go: Human-readable policy text
*/
package rewards

import (
	"github.com/shopspring/decimal"
)

const (
	DefaultRequiredOfficeDays = 3
	DefaultCoreHours          = "10:00-16:00"
)

// DefaultHighLimitDays is the per-request size above which a request needs
// the high-limit approval permission.
var DefaultHighLimitDays = decimal.NewFromInt(3)

// DefaultPolicy is assigned to every newly created team.
func DefaultPolicy() TeamPolicy {
	return ThreeToOnePolicy(DefaultRequiredOfficeDays)
}

// ThreeToOnePolicy earns one remote day per three office days.
func ThreeToOnePolicy(requiredDays int) TeamPolicy {
	p := base(requiredDays)
	p.AccrualModel = ModelSimple3To1
	p.OfficeToRemoteRatio = defaultSimpleRate
	return p
}

// RatioPolicy earns one remote day per ratio office days.
func RatioPolicy(requiredDays, ratio int) TeamPolicy {
	p := base(requiredDays)
	p.AccrualModel = ModelRatioBased
	p.OfficeToRemoteRatio = ratio
	return p
}

// StreakPolicy pays amount remote days once per streak of threshold office days.
func StreakPolicy(requiredDays, threshold, amount int) TeamPolicy {
	p := base(requiredDays)
	p.AccrualModel = ModelStreakBased
	p.StreakBonusThreshold = threshold
	p.StreakBonusAmount = amount
	return p
}

func base(requiredDays int) TeamPolicy {
	return TeamPolicy{
		RequiredOfficeDays:   requiredDays,
		OfficeToRemoteRatio:  defaultSimpleRate,
		StreakBonusThreshold: 5,
		StreakBonusAmount:    1,
		HighLimitDays:        DefaultHighLimitDays,
		WeeklyHighLimitDays:  decimal.Zero,
		CoreHours:            DefaultCoreHours,
	}
}
