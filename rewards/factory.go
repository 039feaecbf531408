/*
Package rewards provides team policy JSON presets.

These functions build the JSON documents accepted by factory.ParsePolicy
and the PUT /api/teams/{id}/policy endpoint. They construct JSON directly
to avoid an import cycle with the factory package.

USAGE:
  import "github.com/hibridge/engine/rewards"

  jsonStr := rewards.StreakPolicyJSON(3, 5, 1)
  policy, err := factory.NewPolicyFactory().ParsePolicy(jsonStr)
*/
package rewards

import (
	"encoding/json"
)

// ThreeToOnePolicyJSON returns JSON for the simple 3-to-1 model.
func ThreeToOnePolicyJSON(requiredDays int) string {
	return policyJSON(map[string]interface{}{
		"requiredOfficeDays": requiredDays,
		"accrualModel":       string(ModelSimple3To1),
	})
}

// RatioPolicyJSON returns JSON for ratio-based accrual.
func RatioPolicyJSON(requiredDays, ratio int) string {
	return policyJSON(map[string]interface{}{
		"requiredOfficeDays":  requiredDays,
		"accrualModel":        string(ModelRatioBased),
		"officeToRemoteRatio": ratio,
	})
}

// StreakPolicyJSON returns JSON for streak bonus accrual.
func StreakPolicyJSON(requiredDays, threshold, amount int) string {
	return policyJSON(map[string]interface{}{
		"requiredOfficeDays":   requiredDays,
		"accrualModel":         string(ModelStreakBased),
		"streakBonusThreshold": threshold,
		"streakBonusAmount":    amount,
	})
}

// HighLimitPolicyJSON returns JSON that only changes the approval thresholds.
func HighLimitPolicyJSON(perRequest, weekly float64) string {
	return policyJSON(map[string]interface{}{
		"highLimitDays":       perRequest,
		"weeklyHighLimitDays": weekly,
	})
}

func policyJSON(pj map[string]interface{}) string {
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
