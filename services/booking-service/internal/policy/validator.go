// Package policy applies business booking rules before a write is attempted.
package policy

import (
	"fmt"
	"time"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/availability"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

type Request struct {
	Policy     model.BusinessPolicy
	BusinessID string
	Staff      *model.Staff
	Date       string
	Start      string
	End        string
	Source     model.BookingSource
	ExcludeID  string
	// SkipAdvanceWindow is set for trusted actors moving an existing appointment.
	SkipAdvanceWindow bool
}

// Window is the parsed interval of a validated request.
type Window struct {
	Day   time.Time
	Start int
	End   int
}

type Validator struct {
	now func() time.Time
}

func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Check collects every policy violation for req. The window is only meaningful when no
// violations are returned.
func (v *Validator) Check(req Request) (Window, []string) {
	var violations []string
	p := req.Policy

	if req.Source == model.SourcePublic && !p.OnlineBookingEnabled {
		violations = append(violations, "online booking is disabled for this business")
	}

	if req.Staff != nil {
		if req.Staff.BusinessID != req.BusinessID {
			violations = append(violations, "staff does not belong to this business")
		} else if !req.Staff.Active {
			violations = append(violations, "staff is not active")
		}
	}

	loc := p.Location()
	day, err := availability.ParseDate(req.Date, loc)
	if err != nil {
		violations = append(violations, "date must be YYYY-MM-DD")
	}
	start, startErr := availability.ParseClock(req.Start)
	if startErr != nil {
		violations = append(violations, "start time must be HH:MM")
	}
	end, endErr := availability.ParseClock(req.End)
	if endErr != nil {
		violations = append(violations, "end time must be HH:MM")
	}
	if startErr == nil && endErr == nil && end <= start {
		violations = append(violations, "end time must be after start time")
	}
	if err != nil || startErr != nil || endErr != nil {
		return Window{}, violations
	}

	hours, open := p.HoursFor(day.Weekday())
	if !open {
		violations = append(violations, fmt.Sprintf("business is closed on %s", day.Weekday()))
	} else {
		openAt, oerr := availability.ParseClock(hours.Open)
		closeAt, cerr := availability.ParseClock(hours.Close)
		if oerr != nil || cerr != nil {
			violations = append(violations, "business hours are misconfigured")
		} else if start < openAt || end > closeAt {
			violations = append(violations, fmt.Sprintf("appointment must be within business hours %s-%s", hours.Open, hours.Close))
		}
	}

	if !req.SkipAdvanceWindow {
		now := v.now()
		startsAt := availability.At(day, start)
		if earliest := now.Add(time.Duration(p.MinAdvanceHours) * time.Hour); startsAt.Before(earliest) {
			if p.MinAdvanceHours > 0 {
				violations = append(violations, fmt.Sprintf("appointments must be booked at least %d hours in advance", p.MinAdvanceHours))
			} else {
				violations = append(violations, "appointment start is in the past")
			}
		}
		if p.MaxAdvanceHours > 0 && startsAt.After(now.Add(time.Duration(p.MaxAdvanceHours)*time.Hour)) {
			violations = append(violations, fmt.Sprintf("appointments cannot be booked more than %d hours ahead", p.MaxAdvanceHours))
		}
	}

	return Window{Day: day, Start: start, End: end}, violations
}

// Validate runs the policy checks and, when they pass, the availability check against existing.
func (v *Validator) Validate(req Request, existing []model.Appointment) error {
	w, violations := v.Check(req)
	if len(violations) > 0 {
		return apperr.Validation(violations...)
	}
	return v.CheckAvailability(req, w, existing)
}

func (v *Validator) CheckAvailability(req Request, w Window, existing []model.Appointment) error {
	staffID := ""
	if req.Staff != nil {
		staffID = req.Staff.ID
	}
	c := availability.Candidate{StaffID: staffID, Start: w.Start, End: w.End, ExcludeID: req.ExcludeID}
	if conflicts := availability.Conflicts(c, req.Policy.BufferMinutes, existing); len(conflicts) > 0 {
		return apperr.Conflict(fmt.Sprintf("%s %s-%s overlaps an existing appointment", req.Date, req.Start, req.End))
	}
	return nil
}
