package quota

import "time"

var epoch = time.Unix(0, 0).UTC()

// WindowStart returns the start of the window containing now and the
// instant the next window begins. Windows that never reset return a zero
// reset time.
func WindowStart(def Definition, now time.Time) (start, reset time.Time) {
	loc := def.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch def.Window {
	case WindowDay:
		start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	case WindowMonth:
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		return epoch, time.Time{}
	}
}
