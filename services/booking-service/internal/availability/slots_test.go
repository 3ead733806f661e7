package availability

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

func everyDay() []time.Weekday {
	return []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
}

func TestGenerate_Basic(t *testing.T) {
	policy := model.BusinessPolicy{
		WeeklyHours: map[time.Weekday]model.DayHours{time.Wednesday: {Open: "09:00", Close: "10:00"}},
		SlotMinutes: 15,
	}
	existing := []model.Appointment{
		{ID: "a1", StaffID: "s1", StartTime: "09:15", EndTime: "09:45", Status: model.StatusConfirmed},
	}
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)

	slots, err := Generate(SlotQuery{Policy: policy, Date: "2026-01-28", StaffID: "s1", Existing: existing, Now: now})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	want := []bool{true, false, false, true}
	for i, s := range slots {
		if s.Available != want[i] {
			t.Fatalf("slot %s available=%v, want %v", s.Start, s.Available, want[i])
		}
	}
	if slots[3].Start != "09:45" || slots[3].End != "10:00" {
		t.Fatalf("unexpected last slot %+v", slots[3])
	}
}

func TestGenerate_SkipsPastAndTooSoon(t *testing.T) {
	policy := model.BusinessPolicy{OpenDays: everyDay(), SlotMinutes: 30, MinAdvanceHours: 2}
	now := time.Date(2026, 1, 28, 9, 31, 0, 0, time.UTC)

	slots, err := Generate(SlotQuery{Policy: policy, Date: "2026-01-28", Now: now})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cutoff := now.Add(2 * time.Hour)
	day, _ := ParseDate("2026-01-28", time.UTC)
	for _, s := range slots {
		m, _ := ParseClock(s.Start)
		if At(day, m).Before(cutoff) {
			t.Fatalf("slot %s starts before cutoff %s", s.Start, cutoff.Format(time.RFC3339))
		}
	}
	if len(slots) == 0 || slots[0].Start != "12:00" {
		t.Fatalf("expected first slot 12:00, got %+v", slots)
	}
}

func TestGenerate_ClosedDay(t *testing.T) {
	policy := model.BusinessPolicy{OpenDays: []time.Weekday{time.Monday}}
	slots, err := Generate(SlotQuery{Policy: policy, Date: "2026-01-28", Now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a closed day, got %d", len(slots))
	}
}

func TestGenerate_ClampsStep(t *testing.T) {
	if got := StepMinutes(0); got != DefaultSlotMinutes {
		t.Fatalf("StepMinutes(0) = %d", got)
	}
	if got := StepMinutes(-10); got != DefaultSlotMinutes {
		t.Fatalf("StepMinutes(-10) = %d", got)
	}
	if got := StepMinutes(1); got != MinSlotMinutes {
		t.Fatalf("StepMinutes(1) = %d", got)
	}

	policy := model.BusinessPolicy{
		WeeklyHours: map[time.Weekday]model.DayHours{time.Wednesday: {Open: "09:00", Close: "10:00"}},
		SlotMinutes: 1,
	}
	slots, err := Generate(SlotQuery{Policy: policy, Date: "2026-01-28", Now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 12 {
		t.Fatalf("expected 12 five-minute slots, got %d", len(slots))
	}
}

func TestGenerate_ServiceDurationAndTimezone(t *testing.T) {
	policy := model.BusinessPolicy{
		Timezone:    "Asia/Kolkata",
		OpenDays:    everyDay(),
		SlotMinutes: 30,
	}
	// 04:00 UTC is 09:30 IST, so the 09:00 slot is already gone.
	now := time.Date(2026, 1, 28, 4, 0, 0, 0, time.UTC)
	slots, err := Generate(SlotQuery{Policy: policy, Date: "2026-01-28", Duration: 60, Now: now})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if slots[0].Start != "09:30" || slots[0].End != "10:30" || slots[0].Duration != 60 {
		t.Fatalf("unexpected first slot %+v", slots[0])
	}
	last := slots[len(slots)-1]
	if last.End != "18:00" {
		t.Fatalf("expected last slot to end at close, got %+v", last)
	}
}

func TestGenerate_InvalidDate(t *testing.T) {
	if _, err := Generate(SlotQuery{Date: "28/01/2026"}); err == nil {
		t.Fatal("expected error for malformed date")
	}
}
