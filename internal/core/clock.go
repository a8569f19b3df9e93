package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// defaultWorkdaysPerMonth is the fallback divisor when no workdays are
	// configured, matching a common 22-day working month.
	defaultWorkdaysPerMonth = 22

	// weeksPerMonth is 52 weeks / 12 months.
	weeksPerMonth = 4.33

	defaultStandardMinutes = 8 * 60
)

// WorkDaysPerMonth estimates the average number of workdays in a month from
// the configured weekday set: |workDays| x 4.33. An empty set falls back to
// 22 so income math never divides by zero.
func WorkDaysPerMonth(workDays []int) decimal.Decimal {
	if len(workDays) == 0 {
		return decimal.NewFromInt(defaultWorkdaysPerMonth)
	}
	return decimal.NewFromInt(int64(len(workDays))).Mul(decimal.NewFromFloat(weeksPerMonth))
}

// ParseClockMinutes converts "HH:MM" into minutes since midnight.
func ParseClockMinutes(clock string) (int, error) {
	t, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, clock)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// StandardWorkMinutes is the length of the configured work window in
// minutes. An end time earlier than the start time means the window spans
// midnight. Unparseable input falls back to an 8-hour day.
func StandardWorkMinutes(startClock, endClock string) int {
	start, err := ParseClockMinutes(startClock)
	if err != nil {
		return defaultStandardMinutes
	}
	end, err := ParseClockMinutes(endClock)
	if err != nil {
		return defaultStandardMinutes
	}
	if end < start {
		end += 24 * 60
	}
	return end - start
}

// IsWorkday reports whether t's weekday ordinal (0=Sunday .. 6=Saturday)
// is in the configured set.
func IsWorkday(workDays []int, t time.Time) bool {
	day := int(t.Weekday())
	for _, d := range workDays {
		if d == day {
			return true
		}
	}
	return false
}

// WindowFor resolves the schedule boundaries for the calendar day of ref.
// The end boundary rolls into the next day when the window spans midnight.
func WindowFor(ref time.Time, startClock, endClock string) (start, end time.Time) {
	startMin, err := ParseClockMinutes(startClock)
	if err != nil {
		startMin = 9 * 60
	}
	endMin, err := ParseClockMinutes(endClock)
	if err != nil {
		endMin = 18 * 60
	}
	midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	start = midnight.Add(time.Duration(startMin) * time.Minute)
	end = midnight.Add(time.Duration(endMin) * time.Minute)
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}

// FormatMinutes renders a minute count as "8h 30m".
func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}

// FormatClockMinutes renders a minute count as "8:30".
func FormatClockMinutes(minutes int) string {
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}
