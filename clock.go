package flow

import "time"

// Clock supplies the current time for execution log entries and activity
// timestamps. Tests inject a deterministic clock.
type Clock func() time.Time

// SystemClock returns the wall-clock time in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
