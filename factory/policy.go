/*
Package factory provides JSON to Go team policy conversion.

PURPOSE:
  Converts JSON team policy definitions into rewards.TeamPolicy values.
  Managers edit their team's RTO and reward rules through the API as
  JSON; the factory applies defaults, validates, and produces the struct
  the accrual engine reads.

JSON SCHEMA:
  {
    "requiredOfficeDays": 3,
    "accrualModel": "streak_based",
    "officeToRemoteRatio": 3,
    "streakBonusThreshold": 5,
    "streakBonusAmount": 1,
    "highLimitDays": 3,
    "weeklyHighLimitDays": 0,
    "coreHours": "10:00-16:00"
  }

DEFAULTS:
  Omitted fields take their value from rewards.DefaultPolicy(), so a
  partial document like {"accrualModel":"ratio_based","officeToRemoteRatio":4}
  is a complete policy.

USAGE:
  factory := NewPolicyFactory()

  // From JSON string
  policy, err := factory.ParsePolicy(jsonString)

  // From a preset
  jsonStr := rewards.StreakPolicyJSON(3, 5, 1)
  policy, err := factory.ParsePolicy(jsonStr)

  // Back to JSON for the API
  pj := factory.ToJSON(policy)

SEE ALSO:
  - rewards/types.go: TeamPolicy definition and Validate()
  - rewards/policies.go: Go-based presets
  - rewards/factory.go: JSON presets
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/rewards"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a team policy.
// Pointer fields distinguish "omitted" from zero.
type PolicyJSON struct {
	RequiredOfficeDays   *int     `json:"requiredOfficeDays,omitempty"`
	AccrualModel         string   `json:"accrualModel,omitempty"` // ratio_based, simple_3_to_1, streak_based
	OfficeToRemoteRatio  *int     `json:"officeToRemoteRatio,omitempty"`
	StreakBonusThreshold *int     `json:"streakBonusThreshold,omitempty"`
	StreakBonusAmount    *int     `json:"streakBonusAmount,omitempty"`
	HighLimitDays        *float64 `json:"highLimitDays,omitempty"`
	WeeklyHighLimitDays  *float64 `json:"weeklyHighLimitDays,omitempty"`
	CoreHours            *string  `json:"coreHours,omitempty"`
	Description          string   `json:"description,omitempty"` // output only
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to rewards.TeamPolicy.
type PolicyFactory struct {
	defaults rewards.TeamPolicy
}

// NewPolicyFactory creates a factory that fills gaps from rewards.DefaultPolicy().
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{defaults: rewards.DefaultPolicy()}
}

// WithDefaults returns a factory that fills gaps from base instead.
// Used to apply a partial update on top of a team's current policy.
func (f *PolicyFactory) WithDefaults(base rewards.TeamPolicy) *PolicyFactory {
	return &PolicyFactory{defaults: base}
}

// ParsePolicy parses a JSON string into a validated TeamPolicy.
// Unknown fields are rejected so typos do not silently fall back to defaults.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (rewards.TeamPolicy, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.DisallowUnknownFields()

	var pj PolicyJSON
	if err := dec.Decode(&pj); err != nil {
		return rewards.TeamPolicy{}, generic.NewValidationError("policy", fmt.Sprintf("failed to parse policy JSON: %v", err))
	}
	return f.FromJSON(pj)
}

// FromJSON converts a PolicyJSON to a validated TeamPolicy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (rewards.TeamPolicy, error) {
	p := f.defaults

	if pj.RequiredOfficeDays != nil {
		p.RequiredOfficeDays = *pj.RequiredOfficeDays
	}
	if pj.AccrualModel != "" {
		p.AccrualModel = rewards.AccrualModel(pj.AccrualModel)
	}
	if pj.OfficeToRemoteRatio != nil {
		p.OfficeToRemoteRatio = *pj.OfficeToRemoteRatio
	}
	if pj.StreakBonusThreshold != nil {
		p.StreakBonusThreshold = *pj.StreakBonusThreshold
	}
	if pj.StreakBonusAmount != nil {
		p.StreakBonusAmount = *pj.StreakBonusAmount
	}
	if pj.HighLimitDays != nil {
		p.HighLimitDays = decimal.NewFromFloat(*pj.HighLimitDays)
	}
	if pj.WeeklyHighLimitDays != nil {
		p.WeeklyHighLimitDays = decimal.NewFromFloat(*pj.WeeklyHighLimitDays)
	}
	if pj.CoreHours != nil {
		p.CoreHours = *pj.CoreHours
	}

	// simple_3_to_1 always runs at 3 regardless of what was sent.
	if p.AccrualModel == rewards.ModelSimple3To1 {
		p.OfficeToRemoteRatio = 3
	}

	if err := p.Validate(); err != nil {
		return rewards.TeamPolicy{}, err
	}
	return p, nil
}

// ToJSON converts a TeamPolicy back to its JSON form with every field set.
func ToJSON(p rewards.TeamPolicy) PolicyJSON {
	required := p.RequiredOfficeDays
	ratio := p.OfficeToRemoteRatio
	threshold := p.StreakBonusThreshold
	amount := p.StreakBonusAmount
	high, _ := p.HighLimitDays.Float64()
	weekly, _ := p.WeeklyHighLimitDays.Float64()
	core := p.CoreHours

	return PolicyJSON{
		RequiredOfficeDays:   &required,
		AccrualModel:         string(p.AccrualModel),
		OfficeToRemoteRatio:  &ratio,
		StreakBonusThreshold: &threshold,
		StreakBonusAmount:    &amount,
		HighLimitDays:        &high,
		WeeklyHighLimitDays:  &weekly,
		CoreHours:            &core,
		Description:          rewards.Describe(p),
	}
}
