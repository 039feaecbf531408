package rewards

import (
	"fmt"
	"strings"
)

// Describe renders the team policy the way it is shown to employees.
func Describe(p TeamPolicy) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s per week in the office", plural(p.RequiredOfficeDays, "day"))
	if p.CoreHours != "" {
		fmt.Fprintf(&sb, " (core hours %s)", p.CoreHours)
	}
	sb.WriteString(". ")
	sb.WriteString(DescribeAccrual(p))
	if p.HighLimitDays.IsPositive() {
		fmt.Fprintf(&sb, " Requests above %s days need senior approval.", p.HighLimitDays)
	}
	return sb.String()
}

// DescribeAccrual explains how remote days are earned.
func DescribeAccrual(p TeamPolicy) string {
	switch p.AccrualModel {
	case ModelSimple3To1:
		return "Earn 1 remote day for every 3 office days."
	case ModelRatioBased:
		return fmt.Sprintf("Earn 1 remote day for every %s.", plural(p.OfficeToRemoteRatio, "office day"))
	case ModelStreakBased:
		return fmt.Sprintf("Earn %s after %s in a row.",
			plural(p.StreakBonusAmount, "remote day"), plural(p.StreakBonusThreshold, "office day"))
	}
	return "No remote days are earned."
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
