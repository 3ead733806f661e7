package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

// 2026-03-02 is a Monday.
var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func weekdayPolicy() model.BusinessPolicy {
	return model.BusinessPolicy{
		ID:                   "b1",
		OpenDays:             []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		SlotMinutes:          30,
		OnlineBookingEnabled: true,
	}
}

func TestValidatorAccumulatesViolations(t *testing.T) {
	p := weekdayPolicy()
	p.OnlineBookingEnabled = false
	v := NewValidator(func() time.Time { return fixedNow })

	// Sunday, outside hours, online disabled.
	err := v.Validate(Request{Policy: p, BusinessID: "b1", Date: "2026-03-01", Start: "07:00", End: "07:30", Source: model.SourcePublic}, nil)
	require.ErrorIs(t, err, apperr.ErrValidation)
	violations := apperr.Violations(err)
	assert.Len(t, violations, 3)
	assert.Contains(t, violations[0], "online booking")
}

func TestValidatorHoursAndAdvanceWindow(t *testing.T) {
	p := weekdayPolicy()
	p.MinAdvanceHours = 48
	p.MaxAdvanceHours = 24 * 7
	v := NewValidator(func() time.Time { return fixedNow })

	_, violations := v.Check(Request{Policy: p, BusinessID: "b1", Date: "2026-03-02", Start: "17:30", End: "18:30"})
	assert.Len(t, violations, 2, "outside hours and too soon: %v", violations)

	_, violations = v.Check(Request{Policy: p, BusinessID: "b1", Date: "2026-03-20", Start: "10:00", End: "10:30"})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "ahead")

	_, violations = v.Check(Request{Policy: p, BusinessID: "b1", Date: "2026-03-02", Start: "10:00", End: "10:30", SkipAdvanceWindow: true})
	assert.Empty(t, violations)
}

func TestValidatorMalformedInput(t *testing.T) {
	v := NewValidator(func() time.Time { return fixedNow })
	_, violations := v.Check(Request{Policy: weekdayPolicy(), BusinessID: "b1", Date: "tomorrow", Start: "10:30", End: "10:00"})
	assert.Contains(t, violations, "date must be YYYY-MM-DD")
	assert.Contains(t, violations, "end time must be after start time")
}

func TestValidatorStaff(t *testing.T) {
	v := NewValidator(func() time.Time { return fixedNow })
	req := Request{Policy: weekdayPolicy(), BusinessID: "b1", Date: "2026-03-02", Start: "10:00", End: "10:30"}

	req.Staff = &model.Staff{ID: "s1", BusinessID: "b2", Active: true}
	_, violations := v.Check(req)
	assert.Equal(t, []string{"staff does not belong to this business"}, violations)

	req.Staff = &model.Staff{ID: "s1", BusinessID: "b1", Active: false}
	_, violations = v.Check(req)
	assert.Equal(t, []string{"staff is not active"}, violations)
}

func TestValidatorScenarioA(t *testing.T) {
	p := weekdayPolicy()
	p.WeeklyHours = map[time.Weekday]model.DayHours{time.Monday: {Open: "09:00", Close: "18:00"}}
	v := NewValidator(func() time.Time { return fixedNow })
	existing := []model.Appointment{
		{ID: "a1", BusinessID: "b1", StaffID: "A", Date: "2026-03-02", StartTime: "10:00", EndTime: "10:30", Status: model.StatusConfirmed},
	}
	staffA := &model.Staff{ID: "A", BusinessID: "b1", Active: true}
	staffB := &model.Staff{ID: "B", BusinessID: "b1", Active: true}

	err := v.Validate(Request{Policy: p, BusinessID: "b1", Staff: staffA, Date: "2026-03-02", Start: "10:00", End: "10:30"}, existing)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = v.Validate(Request{Policy: p, BusinessID: "b1", Staff: staffB, Date: "2026-03-02", Start: "10:00", End: "10:30"}, existing)
	assert.NoError(t, err)

	err = v.Validate(Request{Policy: p, BusinessID: "b1", Staff: staffA, Date: "2026-03-02", Start: "10:30", End: "11:00"}, existing)
	assert.NoError(t, err)
}
