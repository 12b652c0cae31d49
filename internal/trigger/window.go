package trigger

import (
	"regexp"
	"time"
)

// Window is the time range the downstream processing run covered. Used only
// to schedule the next cycle.
type Window struct {
	Start time.Time
	End   time.Time
}

var timePattern = regexp.MustCompile(`\d{1,2}:\d{2}`)

// ParseWindowLabel turns a displayed range label into a Window anchored on
// now's date. Two HH:MM matches give start and end; one gives the end with
// the start derived by interval; none falls back to now−interval..now. It
// always returns a well-formed window with Start <= End.
func ParseWindowLabel(label string, now time.Time, interval time.Duration) Window {
	times := timePattern.FindAllString(label, 2)
	switch len(times) {
	case 2:
		start := atClock(now, times[0])
		end := atClock(now, times[1])
		// A label like "23:50 - 00:10" crosses midnight.
		if start.After(end) {
			start = start.AddDate(0, 0, -1)
		}
		return Window{Start: start, End: end}
	case 1:
		end := atClock(now, times[0])
		return Window{Start: end.Add(-interval), End: end}
	default:
		return Window{Start: now.Add(-interval), End: now}
	}
}

// atClock places an HH:MM label on now's date in now's location. The label is
// already regexp-validated, so parse errors cannot occur.
func atClock(now time.Time, hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return now
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
}

// NextRunTime schedules the next cycle: the window's end plus the interval.
// When that moment has already passed (a stale label, or a range read just
// before midnight) it rolls forward one day. A just-elapsed end whose
// end+interval is still in the future stays on the same day.
func NextRunTime(end, now time.Time, interval time.Duration) time.Time {
	next := end.Add(interval)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
