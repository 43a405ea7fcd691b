package util

import "time"

// humanTimeFormat is the layout for human-readable timestamps with timezone.
const humanTimeFormat = "2 Jan 2006 15:04:05 MST"

// HumanTime formats t in local time for notification bodies.
func HumanTime(t time.Time) string {
	return t.Local().Format(humanTimeFormat)
}
