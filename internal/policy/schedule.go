package policy

import (
	"fmt"
	"time"

	"family-safety-control/internal/model"
)

// ParseClock parses a local "HH:MM" time into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InWindow reports whether the local clock time of now falls inside w.
// Windows whose end is before their start span midnight, e.g. 21:00-07:00.
// A window with equal start and end is empty.
func InWindow(w model.ScheduleWindow, now time.Time) bool {
	if !w.Enabled {
		return false
	}
	start, err := ParseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	switch {
	case start == end:
		return false
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}

// ValidateWindow checks the clock values of w. An enabled window needs both;
// a disabled one may leave them empty.
func ValidateWindow(w model.ScheduleWindow) error {
	for _, clock := range []string{w.Start, w.End} {
		if clock == "" && !w.Enabled {
			continue
		}
		if _, err := ParseClock(clock); err != nil {
			return err
		}
	}
	return nil
}

// NextMidnight returns the first instant of the day after now in loc.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// UsageDate is the local calendar date now belongs to, as YYYY-MM-DD.
func UsageDate(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(time.DateOnly)
}
