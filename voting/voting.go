/*
Package voting implements the weekly office-day vote.

PURPOSE:
  Each employee picks the weekdays they will be in the office. The team
  policy says how many (RequiredOfficeDays). The selection is a VoteSet
  per (team, week, employee) that can be toggled freely until submitted:

    Toggle(date)  present -> removed
                  absent, len < required -> added
                  absent, len == required -> *generic.VoteLimitError
    Submit(week)  only when len == required, once
    Reset(week)   clears days and the submitted flag

  A submitted set is immutable until Reset.

TALLY:
  Tally() counts submitted sets per weekday and recommends anchor days:
  the RequiredOfficeDays most voted days, ties broken by the earlier day.

KEY NAMESPACE:
  vote:<team>:<monday>:<employee>  VoteSet

SEE ALSO:
  - rewards/service.go: PolicySource shared with the accrual engine
  - generic/retry.go: RetryOnConflict
*/
package voting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
	"github.com/hibridge/engine/rewards"
)

// =============================================================================
// VOTE SET
// =============================================================================

type VoteSet struct {
	EmployeeID  generic.EmployeeID  `json:"employee_id"`
	TeamID      generic.TeamID      `json:"team_id"`
	WeekStart   generic.TimePoint   `json:"week_start"`
	Days        []generic.TimePoint `json:"days"`
	Submitted   bool                `json:"submitted"`
	SubmittedAt *time.Time          `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`

	Version int64 `json:"-"`
}

func VoteKey(teamID generic.TeamID, weekStart generic.TimePoint, employeeID generic.EmployeeID) string {
	return fmt.Sprintf("vote:%s:%s:%s", teamID, weekStart.WeekStart(), employeeID)
}

func (v VoteSet) Contains(d generic.TimePoint) bool {
	return v.indexOf(d) >= 0
}

func (v VoteSet) indexOf(d generic.TimePoint) int {
	for i, day := range v.Days {
		if day.Equal(d) {
			return i
		}
	}
	return -1
}

func (v *VoteSet) remove(d generic.TimePoint) {
	i := v.indexOf(d)
	v.Days = append(v.Days[:i:i], v.Days[i+1:]...)
}

func (v *VoteSet) add(d generic.TimePoint) {
	v.Days = append(v.Days, d)
	sort.Slice(v.Days, func(i, j int) bool { return v.Days[i].Before(v.Days[j]) })
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	kv       generic.KV
	policies rewards.PolicySource
	locks    *generic.KeyedMutex
	notifier notify.Notifier
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Aggregator)

func WithNotifier(n notify.Notifier) Option { return func(a *Aggregator) { a.notifier = n } }
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(a *Aggregator) { a.logger = l } }

func NewAggregator(kv generic.KV, policies rewards.PolicySource, opts ...Option) *Aggregator {
	a := &Aggregator{
		kv:       kv,
		policies: policies,
		locks:    generic.NewKeyedMutex(),
		notifier: notify.Discard{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "voting")
	return a
}

// Get returns the employee's vote set for the week of weekStart.
// A missing set is returned empty with Version 0.
func (a *Aggregator) Get(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, weekStart generic.TimePoint) (VoteSet, error) {
	return a.load(ctx, employeeID, teamID, weekStart.WeekStart())
}

// Toggle adds or removes date from the employee's vote for that week.
func (a *Aggregator) Toggle(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, date generic.TimePoint) (VoteSet, error) {
	if date.IsZero() {
		return VoteSet{}, generic.NewValidationError("date", "is required")
	}
	if date.IsWeekend() {
		return VoteSet{}, generic.NewValidationError("date", fmt.Sprintf("%s is not a weekday", date))
	}
	required, err := a.required(ctx, teamID)
	if err != nil {
		return VoteSet{}, err
	}
	return a.mutate(ctx, employeeID, teamID, date.WeekStart(), func(v *VoteSet) error {
		if v.Submitted {
			return &generic.InvalidTransitionError{Subject: "vote set", From: "submitted", Action: "toggle"}
		}
		if v.Contains(date) {
			v.remove(date)
			return nil
		}
		if len(v.Days) >= required {
			return &generic.VoteLimitError{Limit: required}
		}
		v.add(date)
		return nil
	})
}

// Submit locks in the week's selection. It must hold exactly RequiredOfficeDays.
func (a *Aggregator) Submit(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, weekStart generic.TimePoint) (VoteSet, error) {
	required, err := a.required(ctx, teamID)
	if err != nil {
		return VoteSet{}, err
	}
	v, err := a.mutate(ctx, employeeID, teamID, weekStart.WeekStart(), func(v *VoteSet) error {
		if v.Submitted {
			return &generic.InvalidTransitionError{Subject: "vote set", From: "submitted", Action: "submit"}
		}
		if len(v.Days) != required {
			return generic.NewValidationError("days", fmt.Sprintf("select exactly %d office days (have %d)", required, len(v.Days)))
		}
		now := a.now().UTC()
		v.Submitted = true
		v.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return VoteSet{}, err
	}

	a.logger.Info("votes submitted", "employee_id", employeeID, "team_id", teamID, "week", v.WeekStart.String())
	a.notifier.Notify(ctx, notify.Event{
		Kind: notify.KindVotesSubmitted, EmployeeID: employeeID, TeamID: teamID, Success: true,
		Message: fmt.Sprintf("Office days for the week of %s submitted", v.WeekStart),
	})
	return v, nil
}

// Reset clears the week's selection, submitted or not.
func (a *Aggregator) Reset(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, weekStart generic.TimePoint) (VoteSet, error) {
	return a.mutate(ctx, employeeID, teamID, weekStart.WeekStart(), func(v *VoteSet) error {
		v.Days = nil
		v.Submitted = false
		v.SubmittedAt = nil
		return nil
	})
}

func (a *Aggregator) required(ctx context.Context, teamID generic.TeamID) (int, error) {
	p, err := a.policies.TeamPolicy(ctx, teamID)
	if err != nil {
		return 0, err
	}
	return p.RequiredOfficeDays, nil
}

// mutate applies fn to the stored set under the key lock with CAS retry.
// When fn fails nothing is written.
func (a *Aggregator) mutate(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, week generic.TimePoint, fn func(*VoteSet) error) (VoteSet, error) {
	key := VoteKey(teamID, week, employeeID)
	unlock := a.locks.Lock(key)
	defer unlock()

	var result VoteSet
	err := generic.RetryOnConflict(ctx, func() error {
		v, err := a.load(ctx, employeeID, teamID, week)
		if err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			return err
		}
		v.UpdatedAt = a.now().UTC()
		version, err := generic.PutJSON(ctx, a.kv, key, v, v.Version)
		if err != nil {
			return generic.Persist("save vote set", err)
		}
		v.Version = version
		result = v
		return nil
	})
	return result, err
}

func (a *Aggregator) load(ctx context.Context, employeeID generic.EmployeeID, teamID generic.TeamID, week generic.TimePoint) (VoteSet, error) {
	var v VoteSet
	version, err := generic.GetJSON(ctx, a.kv, VoteKey(teamID, week, employeeID), &v)
	switch {
	case generic.IsNotFound(err):
		return VoteSet{EmployeeID: employeeID, TeamID: teamID, WeekStart: week, Days: []generic.TimePoint{}}, nil
	case err != nil:
		return VoteSet{}, generic.Persist("load vote set", err)
	}
	v.Version = version
	if v.Days == nil {
		v.Days = []generic.TimePoint{}
	}
	return v, nil
}

// =============================================================================
// TALLY
// =============================================================================

type DayCount struct {
	Date  generic.TimePoint `json:"date"`
	Count int               `json:"count"`
}

type Tally struct {
	TeamID     generic.TeamID      `json:"team_id"`
	WeekStart  generic.TimePoint   `json:"week_start"`
	Submitted  int                 `json:"submitted"`
	Counts     []DayCount          `json:"counts"`
	AnchorDays []generic.TimePoint `json:"anchor_days"`
}

// Tally counts the team's submitted votes for a week and picks anchor days.
func (a *Aggregator) Tally(ctx context.Context, teamID generic.TeamID, weekStart generic.TimePoint) (Tally, error) {
	week := weekStart.WeekStart()
	required, err := a.required(ctx, teamID)
	if err != nil {
		return Tally{}, err
	}
	sets, err := generic.ListJSON[VoteSet](ctx, a.kv, fmt.Sprintf("vote:%s:%s:", teamID, week))
	if err != nil {
		return Tally{}, generic.Persist("list vote sets", err)
	}

	t := Tally{TeamID: teamID, WeekStart: week, AnchorDays: []generic.TimePoint{}}
	for _, d := range week.WeekDays() {
		t.Counts = append(t.Counts, DayCount{Date: d})
	}
	for _, set := range sets {
		if !set.Submitted {
			continue
		}
		t.Submitted++
		for _, d := range set.Days {
			if i := generic.DaysBetween(week, d); i >= 0 && i < len(t.Counts) {
				t.Counts[i].Count++
			}
		}
	}

	ranked := make([]DayCount, len(t.Counts))
	copy(ranked, t.Counts)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	for _, dc := range ranked {
		if len(t.AnchorDays) == required || dc.Count == 0 {
			break
		}
		t.AnchorDays = append(t.AnchorDays, dc.Date)
	}
	sort.Slice(t.AnchorDays, func(i, j int) bool { return t.AnchorDays[i].Before(t.AnchorDays[j]) })
	return t, nil
}
