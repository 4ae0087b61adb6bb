package timeutil

import (
	"fmt"
	"time"
)

// Relative describes t relative to the current time.
func Relative(t time.Time) string {
	return RelativeTo(t, time.Now())
}

// RelativeTo describes t relative to now. Differences under a second
// read as "just now".
func RelativeTo(t, now time.Time) string {
	d := t.Sub(now)
	future := d > 0
	if !future {
		d = -d
	}
	if d < time.Second {
		return "just now"
	}

	var n int64
	var unit string
	switch {
	case d < time.Minute:
		n, unit = int64(d/time.Second), "second"
	case d < time.Hour:
		n, unit = int64(d/time.Minute), "minute"
	case d < 24*time.Hour:
		n, unit = int64(d/time.Hour), "hour"
	default:
		n, unit = int64(d/(24*time.Hour)), "day"
	}
	if n != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

// Remaining formats a duration truncated to whole seconds. Negative
// durations read as "0s".
func Remaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Truncate(time.Second).String()
}
