package aligner

import (
	"fmt"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
)

// DefaultTimezone is the market calendar of the German bidding zone
const DefaultTimezone = "Europe/Berlin"

// LoadLocation loads a timezone, defaulting to Europe/Berlin
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", name, err)
	}
	return loc, nil
}

// StudyWindow converts inclusive local calendar days into a UTC window
// [first 00:00 local, day after last 00:00 local)
func StudyWindow(first, last time.Time, loc *time.Location) (contracts.TimeRange, error) {
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	end := time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, loc)
	if !start.Before(end) {
		return contracts.TimeRange{}, fmt.Errorf("study window: %s is after %s",
			first.Format("2006-01-02"), last.Format("2006-01-02"))
	}
	return contracts.TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

// ParseDate parses YYYY-MM-DD as a calendar day
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// HourlyIndex returns every hour start in the window, UTC, strictly increasing.
// Stepping in UTC yields 23 hours on the spring-forward day and 25 on the
// fall-back day when the window is built from local midnights.
func HourlyIndex(window contracts.TimeRange) []time.Time {
	start := window.Start.UTC().Truncate(time.Hour)
	if start.Before(window.Start) {
		start = start.Add(time.Hour)
	}
	var idx []time.Time
	for t := start; t.Before(window.End); t = t.Add(time.Hour) {
		idx = append(idx, t)
	}
	return idx
}

// HoursPerDay counts index hours per local calendar day (YYYY-MM-DD)
func HoursPerDay(index []time.Time, loc *time.Location) map[string]int {
	days := make(map[string]int)
	for _, t := range index {
		days[t.In(loc).Format("2006-01-02")]++
	}
	return days
}
