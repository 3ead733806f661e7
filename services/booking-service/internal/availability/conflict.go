package availability

import "github.com/algotwist369/bookby247/services/booking-service/internal/model"

// Candidate is a proposed interval on a single date, in minutes of day.
type Candidate struct {
	StaffID   string
	Start     int
	End       int
	ExcludeID string
}

// SameScope reports whether two staff ids compete for the same capacity. Staff-less bookings
// only compete with other staff-less bookings.
func SameScope(a, b string) bool {
	return a == b
}

// Conflicts returns the appointments in existing that collide with c once buffer minutes are
// added to both sides of each existing booking. existing must belong to the same business and date.
func Conflicts(c Candidate, bufferMinutes int, existing []model.Appointment) []model.Appointment {
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	var out []model.Appointment
	for _, appt := range existing {
		if !appt.Status.Active() {
			continue
		}
		if c.ExcludeID != "" && appt.ID == c.ExcludeID {
			continue
		}
		if !SameScope(c.StaffID, appt.StaffID) {
			continue
		}
		start, err := ParseClock(appt.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(appt.EndTime)
		if err != nil {
			continue
		}
		// Half-open intervals widened by the buffer.
		if c.Start < end+bufferMinutes && c.End > start-bufferMinutes {
			out = append(out, appt)
		}
	}
	return out
}

func Available(c Candidate, bufferMinutes int, existing []model.Appointment) bool {
	return len(Conflicts(c, bufferMinutes, existing)) == 0
}
