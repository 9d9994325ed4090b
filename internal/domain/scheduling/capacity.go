package scheduling

// SlotCapacity is the number of live appointments one slot can hold.
const SlotCapacity = 3

// Booking is the part of an appointment the capacity check looks at.
type Booking struct {
	Time   TimeOfDay
	Status Status
}

// FilterAvailable keeps the slots whose count of non-cancelled bookings is
// below SlotCapacity, preserving the order of slots.
func FilterAvailable(slots []TimeOfDay, bookings []Booking) []TimeOfDay {
	counts := CountByTime(bookings)
	available := make([]TimeOfDay, 0, len(slots))
	for _, s := range slots {
		if counts[s] < SlotCapacity {
			available = append(available, s)
		}
	}
	return available
}

// CountByTime counts non-cancelled bookings per slot.
func CountByTime(bookings []Booking) map[TimeOfDay]int {
	counts := make(map[TimeOfDay]int, len(bookings))
	for _, b := range bookings {
		if b.Status == StatusCancelled {
			continue
		}
		counts[b.Time]++
	}
	return counts
}

// HasCapacity reports whether one more booking fits at t.
func HasCapacity(t TimeOfDay, bookings []Booking) bool {
	return CountByTime(bookings)[t] < SlotCapacity
}
