/*
accrual.go - Attendance-driven accrual of remote days

PURPOSE:
  Converts one attendance event into balance deltas. Accrue() is pure:
  it takes the current Balance and the team's TeamPolicy and returns the
  next Balance plus an AccrualOutcome. No I/O, no clock, no logging.
  BalanceService.RecordAttendance() is the only caller that persists.

COUNTING:
  Only business days are processed. An office day is counted at most once:
  any office event dated on or before LastOfficeDay is a duplicate.

    Mon office   OfficeDays=1 Streak=1
    Tue office   OfficeDays=2 Streak=2
    Wed remote   OfficeDays=2 Streak=0  (BonusAwarded cleared)
    Thu office   OfficeDays=3 Streak=1

  A streak continues only when LastOfficeDay is the previous business day,
  so Friday -> Monday keeps the streak alive.

RULES:
  RatioAccrual:  +1 day each time OfficeDays reaches a multiple of Ratio
  StreakAccrual: +Amount once when Streak reaches Threshold; the flag
                 BonusAwarded blocks a second award until the streak breaks

  Earning is always in whole days.

EXAMPLE:
  next, out, err := rewards.Accrue(balance, policy, rewards.AttendanceEvent{
      EmployeeID: "emp-1", TeamID: "team-1",
      Date: generic.NewTimePoint(2025, 3, 7), WorkType: rewards.WorkOffice,
  })
  if out.Changed { save(next) }

SEE ALSO:
  - describe.go: Human-readable policy text (kept out of the math)
  - service.go: RecordAttendance() persistence + ledger
*/
package rewards

import (
	"fmt"

	"github.com/hibridge/engine/generic"
)

// =============================================================================
// ACCRUAL RULES
// =============================================================================

// AccrualRule decides what an office day that was just counted earns.
type AccrualRule interface {
	Model() AccrualModel

	// Award is called after OfficeDays and Streak were updated on b.
	// It may set rule state on b (BonusAwarded) and returns whole days.
	Award(b *Balance) (earned, bonus int)
}

// RatioAccrual grants one remote day per Ratio counted office days.
type RatioAccrual struct {
	Ratio int
	model AccrualModel
}

func (r RatioAccrual) Model() AccrualModel {
	if r.model == "" {
		return ModelRatioBased
	}
	return r.model
}

func (r RatioAccrual) Award(b *Balance) (int, int) {
	if r.Ratio < 1 || b.OfficeDays%r.Ratio != 0 {
		return 0, 0
	}
	return 1, 0
}

// StreakAccrual pays Amount once per streak reaching Threshold.
type StreakAccrual struct {
	Threshold int
	Amount    int
}

func (s StreakAccrual) Model() AccrualModel { return ModelStreakBased }

func (s StreakAccrual) Award(b *Balance) (int, int) {
	if b.BonusAwarded || b.Streak < s.Threshold {
		return 0, 0
	}
	b.BonusAwarded = true
	return 0, s.Amount
}

// RuleFor returns the rule configured by the policy's accrual model.
func RuleFor(p TeamPolicy) (AccrualRule, error) {
	switch p.AccrualModel {
	case ModelRatioBased:
		return RatioAccrual{Ratio: p.OfficeToRemoteRatio}, nil
	case ModelSimple3To1:
		return RatioAccrual{Ratio: defaultSimpleRate, model: ModelSimple3To1}, nil
	case ModelStreakBased:
		return StreakAccrual{Threshold: p.StreakBonusThreshold, Amount: p.StreakBonusAmount}, nil
	}
	return nil, generic.NewValidationError("accrual_model", fmt.Sprintf("unknown accrual model %q", p.AccrualModel))
}

// =============================================================================
// ACCRUE
// =============================================================================

// Accrue applies one attendance event to b under policy p.
func Accrue(b Balance, p TeamPolicy, ev AttendanceEvent) (Balance, AccrualOutcome, error) {
	out := AccrualOutcome{Earned: generic.ZeroDays(), Bonus: generic.ZeroDays()}

	if err := ev.Validate(); err != nil {
		return b, out, err
	}
	if b.EmployeeID != ev.EmployeeID || b.TeamID != ev.TeamID {
		return b, out, generic.NewValidationError("employee_id", "event does not belong to this balance")
	}
	rule, err := RuleFor(p)
	if err != nil {
		return b, out, err
	}

	if ev.Date.IsWeekend() {
		out.Skipped = true
		out.Reason = "weekend"
		return b, out, nil
	}

	// Anything on or before the last counted office day has already been seen.
	if b.LastOfficeDay != nil && ev.Date.BeforeOrEqual(*b.LastOfficeDay) {
		if ev.WorkType == WorkOffice {
			out.Duplicate = true
			out.Reason = fmt.Sprintf("office day %s already counted", ev.Date)
		} else {
			out.Reason = fmt.Sprintf("%s day %s predates last office day %s", ev.WorkType, ev.Date, b.LastOfficeDay)
		}
		return b, out, nil
	}

	if ev.WorkType != WorkOffice {
		if b.Streak != 0 || b.BonusAwarded {
			b.Streak = 0
			b.BonusAwarded = false
			out.Changed = true
			out.Reason = "streak broken"
		}
		return b, out, nil
	}

	continues := b.Streak > 0 && b.LastOfficeDay != nil &&
		b.LastOfficeDay.Equal(ev.Date.PreviousWorkday())
	if continues {
		b.Streak++
	} else {
		b.Streak = 1
		b.BonusAwarded = false
	}
	b.OfficeDays++
	day := ev.Date
	b.LastOfficeDay = &day
	out.Changed = true

	earned, bonus := rule.Award(&b)
	if earned > 0 {
		out.Earned = generic.NewAmountFromInt(earned, generic.UnitDays)
		b.earn(out.Earned)
	}
	if bonus > 0 {
		out.Bonus = generic.NewAmountFromInt(bonus, generic.UnitDays)
		b.earn(out.Bonus)
	}
	switch {
	case earned > 0:
		out.Reason = fmt.Sprintf("%d office days counted", b.OfficeDays)
	case bonus > 0:
		out.Reason = fmt.Sprintf("%d-day office streak", b.Streak)
	}
	return b, out, nil
}
