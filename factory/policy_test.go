package factory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/rewards"
)

func TestParsePolicy_PartialUsesDefaults(t *testing.T) {
	// GIVEN: A document naming only the model and ratio
	// WHEN: Parsing it
	// THEN: Every other field comes from the default policy

	p, err := NewPolicyFactory().ParsePolicy(`{"accrualModel":"ratio_based","officeToRemoteRatio":4}`)
	require.NoError(t, err)

	def := rewards.DefaultPolicy()
	assert.Equal(t, rewards.ModelRatioBased, p.AccrualModel)
	assert.Equal(t, 4, p.OfficeToRemoteRatio)
	assert.Equal(t, def.RequiredOfficeDays, p.RequiredOfficeDays)
	assert.Equal(t, def.CoreHours, p.CoreHours)
	assert.True(t, def.HighLimitDays.Equal(p.HighLimitDays))
}

func TestParsePolicy_Presets(t *testing.T) {
	f := NewPolicyFactory()

	p, err := f.ParsePolicy(rewards.StreakPolicyJSON(3, 5, 2))
	require.NoError(t, err)
	assert.Equal(t, rewards.ModelStreakBased, p.AccrualModel)
	assert.Equal(t, 5, p.StreakBonusThreshold)
	assert.Equal(t, 2, p.StreakBonusAmount)

	p, err = f.ParsePolicy(rewards.ThreeToOnePolicyJSON(2))
	require.NoError(t, err)
	assert.Equal(t, rewards.ModelSimple3To1, p.AccrualModel)
	assert.Equal(t, 2, p.RequiredOfficeDays)
}

func TestParsePolicy_Rejects(t *testing.T) {
	f := NewPolicyFactory()
	cases := map[string]string{
		"not json":      `{`,
		"unknown field": `{"accrualModl":"ratio_based"}`,
		"unknown model": `{"accrualModel":"lottery"}`,
		"zero ratio":    `{"accrualModel":"ratio_based","officeToRemoteRatio":0}`,
		"too many days": `{"requiredOfficeDays":6}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParsePolicy(doc)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestParsePolicy_Simple3To1ForcesRatio(t *testing.T) {
	p, err := NewPolicyFactory().ParsePolicy(`{"accrualModel":"simple_3_to_1","officeToRemoteRatio":7}`)
	require.NoError(t, err)
	assert.Equal(t, 3, p.OfficeToRemoteRatio)
}

func TestWithDefaults_PartialUpdate(t *testing.T) {
	// GIVEN: A team already on a streak policy
	// WHEN: A manager sends only a new required day count
	// THEN: The streak settings survive

	current := rewards.StreakPolicy(3, 4, 2)
	p, err := NewPolicyFactory().WithDefaults(current).ParsePolicy(`{"requiredOfficeDays":2}`)
	require.NoError(t, err)
	assert.Equal(t, 2, p.RequiredOfficeDays)
	assert.Equal(t, rewards.ModelStreakBased, p.AccrualModel)
	assert.Equal(t, 4, p.StreakBonusThreshold)
}

func TestToJSON_RoundTrip(t *testing.T) {
	original := rewards.RatioPolicy(4, 2)
	pj := ToJSON(original)
	assert.Equal(t, rewards.Describe(original), pj.Description)

	raw, err := json.Marshal(pj)
	require.NoError(t, err)

	// Description is output only, so strip it before parsing back.
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	delete(doc, "description")
	raw, err = json.Marshal(doc)
	require.NoError(t, err)

	back, err := NewPolicyFactory().ParsePolicy(string(raw))
	require.NoError(t, err)
	assert.Equal(t, original.AccrualModel, back.AccrualModel)
	assert.Equal(t, original.OfficeToRemoteRatio, back.OfficeToRemoteRatio)
	assert.Equal(t, original.RequiredOfficeDays, back.RequiredOfficeDays)
	assert.True(t, original.HighLimitDays.Equal(back.HighLimitDays))
}
