package scheduling

import "time"

// AssignWalkInSlot picks today's slot for a walk-in arriving at now, read in
// now's location: the first slot before the window opens, the last slot once
// it has closed, otherwise the current half hour rounded down. Capacity is
// not consulted.
func AssignWalkInSlot(now time.Time) TimeOfDay {
	w := WindowForDate(now)
	current := TimeOfDayOf(now)
	switch {
	case current < w.Start:
		return w.Start
	case current >= w.End:
		return w.End
	}
	return current - current%slotStep
}
