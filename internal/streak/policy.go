package streak

import (
	"fmt"
	"time"

	"github.com/abhisek/cadence/internal/record"
)

// MakeupCost returns the points charged for recording date on today:
// costPerDay for every day back, minimum one day.
func MakeupCost(s *record.Series, date, today time.Time) int {
	if s.MakeupCostPerDay <= 0 {
		return 0
	}
	return s.MakeupCostPerDay * max(1, record.DaysBetween(date, today))
}

// CheckPolicy validates an activity for date against the series policy.
// It returns the makeup cost (0 for same-day activity) or a
// *record.PolicyError.
func CheckPolicy(s *record.Series, a Activity, date, today time.Time) (int, error) {
	deny := func(format string, args ...any) error {
		return &record.PolicyError{SeriesID: s.ID, Reason: fmt.Sprintf(format, args...)}
	}

	daysAgo := record.DaysBetween(date, today)
	if daysAgo < 0 {
		return 0, deny("%s is in the future", record.FormatDate(date))
	}
	if !s.Window().Contains(date) {
		return 0, deny("%s is outside the series window", record.FormatDate(date))
	}
	if daysAgo == 0 {
		return 0, nil
	}

	if !a.AllowMakeup {
		return 0, deny("%s is in the past and makeup was not requested", record.FormatDate(date))
	}
	if !s.AllowMakeup {
		return 0, deny("series does not allow makeup")
	}
	if s.MaxMakeupDays > 0 && daysAgo > s.MaxMakeupDays {
		return 0, deny("%d days back exceeds the makeup limit of %d", daysAgo, s.MaxMakeupDays)
	}

	cost := MakeupCost(s, date, today)
	if a.MaxCost > 0 && cost > a.MaxCost {
		return 0, deny("makeup costs %d, more than the allowed %d", cost, a.MaxCost)
	}
	return cost, nil
}
