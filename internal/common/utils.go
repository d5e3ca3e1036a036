package common

import "time"

// TruncateHour returns t truncated to the start of its UTC hour.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// InRange reports whether from <= t <= to.
func InRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
