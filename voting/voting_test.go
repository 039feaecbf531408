package voting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/generic/store"
	"github.com/hibridge/engine/rewards"
)

var monday = generic.NewTimePoint(2025, time.March, 3)

func newAggregator(t *testing.T, required int) *Aggregator {
	t.Helper()
	policies := rewards.StaticPolicies{"team-1": rewards.ThreeToOnePolicy(required)}
	return NewAggregator(store.NewTxMemory(), policies)
}

func TestScenarioB_ToggleThreeThenSubmit(t *testing.T) {
	// GIVEN: required_days=3
	// WHEN: Three weekdays are toggled and a fourth is attempted
	// THEN: The fourth is rejected and submit succeeds

	agg := newAggregator(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := agg.Toggle(ctx, "emp-1", "team-1", monday.AddDays(i))
		require.NoError(t, err)
	}

	_, err := agg.Toggle(ctx, "emp-1", "team-1", monday.AddDays(3))
	require.ErrorIs(t, err, generic.ErrVoteLimitExceeded)
	var limit *generic.VoteLimitError
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, 3, limit.Limit)

	v, err := agg.Get(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	assert.Len(t, v.Days, 3)

	v, err = agg.Submit(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	assert.True(t, v.Submitted)
	require.NotNil(t, v.SubmittedAt)
}

func TestToggle_RemovesPresentDay(t *testing.T) {
	agg := newAggregator(t, 2)
	ctx := context.Background()

	_, err := agg.Toggle(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	v, err := agg.Toggle(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	assert.Empty(t, v.Days)
}

func TestToggle_KeepsDaysSorted(t *testing.T) {
	agg := newAggregator(t, 3)
	ctx := context.Background()

	for _, offset := range []int{4, 0, 2} {
		_, err := agg.Toggle(ctx, "emp-1", "team-1", monday.AddDays(offset))
		require.NoError(t, err)
	}
	v, err := agg.Get(ctx, "emp-1", "team-1", monday.AddDays(3))
	require.NoError(t, err)
	require.Len(t, v.Days, 3)
	assert.Equal(t, "2025-03-03", v.Days[0].String())
	assert.Equal(t, "2025-03-07", v.Days[2].String())
}

func TestToggle_RejectsWeekend(t *testing.T) {
	agg := newAggregator(t, 3)
	_, err := agg.Toggle(context.Background(), "emp-1", "team-1", monday.AddDays(5))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSubmit_WrongCount(t *testing.T) {
	agg := newAggregator(t, 3)
	ctx := context.Background()

	_, err := agg.Toggle(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)

	_, err = agg.Submit(ctx, "emp-1", "team-1", monday)
	assert.ErrorIs(t, err, generic.ErrValidation)

	v, err := agg.Get(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	assert.False(t, v.Submitted)
}

func TestSubmitted_IsImmutableUntilReset(t *testing.T) {
	agg := newAggregator(t, 1)
	ctx := context.Background()

	_, err := agg.Toggle(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	_, err = agg.Submit(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)

	_, err = agg.Submit(ctx, "emp-1", "team-1", monday)
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
	_, err = agg.Toggle(ctx, "emp-1", "team-1", monday)
	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)

	v, err := agg.Reset(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	assert.False(t, v.Submitted)
	assert.Empty(t, v.Days)

	_, err = agg.Toggle(ctx, "emp-1", "team-1", monday.AddDays(1))
	assert.NoError(t, err)
}

func TestTally_AnchorDays(t *testing.T) {
	// GIVEN: Three employees, two submitted
	// THEN: Only submitted sets count; ties go to the earlier day

	agg := newAggregator(t, 2)
	ctx := context.Background()

	vote := func(emp generic.EmployeeID, offsets ...int) {
		for _, o := range offsets {
			_, err := agg.Toggle(ctx, emp, "team-1", monday.AddDays(o))
			require.NoError(t, err)
		}
	}
	vote("emp-1", 1, 3)
	vote("emp-2", 1, 2)
	vote("emp-3", 4, 0) // not submitted

	_, err := agg.Submit(ctx, "emp-1", "team-1", monday)
	require.NoError(t, err)
	_, err = agg.Submit(ctx, "emp-2", "team-1", monday)
	require.NoError(t, err)

	tally, err := agg.Tally(ctx, "team-1", monday.AddDays(2))
	require.NoError(t, err)

	assert.Equal(t, 2, tally.Submitted)
	assert.Equal(t, []int{0, 2, 1, 1, 0}, []int{
		tally.Counts[0].Count, tally.Counts[1].Count, tally.Counts[2].Count,
		tally.Counts[3].Count, tally.Counts[4].Count,
	})
	require.Len(t, tally.AnchorDays, 2)
	assert.Equal(t, "2025-03-04", tally.AnchorDays[0].String())
	assert.Equal(t, "2025-03-05", tally.AnchorDays[1].String())
}

func TestToggle_UnknownTeam(t *testing.T) {
	agg := newAggregator(t, 3)
	_, err := agg.Toggle(context.Background(), "emp-1", "team-x", monday)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
