package scheduling

import "time"

const slotStep = 30

// Window is the first and last bookable slot of a day, both inclusive.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

var (
	sundayWindow  = Window{Start: NewTimeOfDay(10, 0), End: NewTimeOfDay(13, 0)}
	weekdayWindow = Window{Start: NewTimeOfDay(17, 0), End: NewTimeOfDay(20, 0)}
)

// WindowForDate returns the consulting window for date: Sunday mornings,
// every other day in the evening.
func WindowForDate(date time.Time) Window {
	if date.Weekday() == time.Sunday {
		return sundayWindow
	}
	return weekdayWindow
}

// SlotsForDate lists the bookable half-hour slots for date in ascending order.
func SlotsForDate(date time.Time) []TimeOfDay {
	w := WindowForDate(date)
	slots := make([]TimeOfDay, 0, int(w.End-w.Start)/slotStep+1)
	for t := w.Start; t <= w.End; t += slotStep {
		slots = append(slots, t)
	}
	return slots
}

// IsSlot reports whether t is one of date's bookable slots.
func IsSlot(date time.Time, t TimeOfDay) bool {
	w := WindowForDate(date)
	return t >= w.Start && t <= w.End && (t-w.Start)%slotStep == 0
}
