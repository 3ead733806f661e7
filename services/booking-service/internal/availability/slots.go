package availability

import (
	"time"

	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

const (
	DefaultSlotMinutes = 30
	MinSlotMinutes     = 5
)

type Slot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Duration  int    `json:"duration"`
	Available bool   `json:"available"`
}

type SlotQuery struct {
	Policy   model.BusinessPolicy
	Date     string
	StaffID  string
	Duration int // slot length; defaults to the step
	Existing []model.Appointment
	Now      time.Time
}

// StepMinutes clamps the configured slot size so the generator always advances.
func StepMinutes(configured int) int {
	if configured <= 0 {
		return DefaultSlotMinutes
	}
	if configured < MinSlotMinutes {
		return MinSlotMinutes
	}
	return configured
}

// Generate walks the opening hours of q.Date and returns every slot that fits, flagged with
// availability. Slots starting before now + MinAdvanceHours are dropped. A closed day yields nil.
func Generate(q SlotQuery) ([]Slot, error) {
	loc := q.Policy.Location()
	day, err := ParseDate(q.Date, loc)
	if err != nil {
		return nil, err
	}
	hours, open := q.Policy.HoursFor(day.Weekday())
	if !open {
		return nil, nil
	}
	openAt, err := ParseClock(hours.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := ParseClock(hours.Close)
	if err != nil {
		return nil, err
	}

	step := StepMinutes(q.Policy.SlotMinutes)
	duration := q.Duration
	if duration <= 0 {
		duration = step
	}
	cutoff := q.Now.Add(time.Duration(q.Policy.MinAdvanceHours) * time.Hour)

	var slots []Slot
	for t := openAt; t+duration <= closeAt; t += step {
		if At(day, t).Before(cutoff) {
			continue
		}
		c := Candidate{StaffID: q.StaffID, Start: t, End: t + duration}
		slots = append(slots, Slot{
			Start:     FormatClock(t),
			End:       FormatClock(t + duration),
			Duration:  duration,
			Available: Available(c, q.Policy.BufferMinutes, q.Existing),
		})
	}
	return slots, nil
}
