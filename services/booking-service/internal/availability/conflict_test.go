package availability

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

func appt(id, staff, start, end string, status model.Status) model.Appointment {
	return model.Appointment{ID: id, BusinessID: "b1", StaffID: staff, Date: "2026-03-02", StartTime: start, EndTime: end, Status: status}
}

func TestConflictsScenario(t *testing.T) {
	existing := []model.Appointment{appt("a1", "staff-a", "10:00", "10:30", model.StatusConfirmed)}

	assert.False(t, Available(Candidate{StaffID: "staff-a", Start: 600, End: 630}, 0, existing))
	assert.True(t, Available(Candidate{StaffID: "staff-b", Start: 600, End: 630}, 0, existing))
	assert.True(t, Available(Candidate{StaffID: "staff-a", Start: 630, End: 660}, 0, existing))
}

func TestConflictsBufferAndTerminal(t *testing.T) {
	existing := []model.Appointment{
		appt("a1", "s", "10:00", "10:30", model.StatusPending),
		appt("a2", "s", "12:00", "12:30", model.StatusCancelled),
		appt("a3", "s", "13:00", "13:30", model.StatusNoShow),
	}

	assert.False(t, Available(Candidate{StaffID: "s", Start: 630, End: 660}, 10, existing), "buffer after")
	assert.False(t, Available(Candidate{StaffID: "s", Start: 570, End: 595}, 10, existing), "buffer before")
	assert.True(t, Available(Candidate{StaffID: "s", Start: 640, End: 670}, 10, existing))
	assert.True(t, Available(Candidate{StaffID: "s", Start: 720, End: 750}, 0, existing), "cancelled never blocks")
	assert.True(t, Available(Candidate{StaffID: "s", Start: 780, End: 810}, 0, existing), "no-show never blocks")
}

func TestConflictsStaffLessScope(t *testing.T) {
	existing := []model.Appointment{
		appt("a1", "", "10:00", "10:30", model.StatusConfirmed),
		appt("a2", "s1", "11:00", "11:30", model.StatusConfirmed),
	}
	assert.False(t, Available(Candidate{Start: 600, End: 630}, 0, existing))
	assert.True(t, Available(Candidate{Start: 660, End: 690}, 0, existing))
	assert.True(t, Available(Candidate{StaffID: "s1", Start: 600, End: 630}, 0, existing))
}

func TestConflictsExcludesSelf(t *testing.T) {
	existing := []model.Appointment{appt("a1", "s", "10:00", "10:30", model.StatusConfirmed)}
	assert.True(t, Available(Candidate{StaffID: "s", Start: 600, End: 630, ExcludeID: "a1"}, 15, existing))
}

// Brute-force check against a minute-by-minute occupancy grid.
func TestConflictsMatchesOccupancyGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		buffer := rng.Intn(3) * 5
		es := rng.Intn(1380)
		ee := es + 5 + rng.Intn(55)
		cs := rng.Intn(1380)
		ce := cs + 5 + rng.Intn(55)
		existing := []model.Appointment{appt("x", "s", FormatClock(es), FormatClock(ee), model.StatusConfirmed)}

		overlap := false
		for m := cs; m < ce; m++ {
			if m >= es-buffer && m < ee+buffer {
				overlap = true
				break
			}
		}
		require.Equal(t, !overlap, Available(Candidate{StaffID: "s", Start: cs, End: ce}, buffer, existing),
			"existing [%d,%d) candidate [%d,%d) buffer %d", es, ee, cs, ce, buffer)
	}
}

func TestAudit(t *testing.T) {
	appts := []model.Appointment{
		appt("a1", "", "10:00", "10:30", model.StatusConfirmed),
		appt("a2", "", "10:15", "10:45", model.StatusPending),
		appt("a3", "s1", "10:00", "10:30", model.StatusConfirmed),
		appt("a4", "s1", "10:30", "11:00", model.StatusConfirmed),
		appt("a5", "s1", "10:00", "10:30", model.StatusCancelled),
	}
	overlaps := Audit(appts, func(string) int { return 0 })
	require.Len(t, overlaps, 1)
	assert.Equal(t, "a1", overlaps[0].First.ID)
	assert.Equal(t, "a2", overlaps[0].Second.ID)

	withBuffer := Audit(appts, func(string) int { return 5 })
	assert.Len(t, withBuffer, 2)
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	m, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, 1440, m)

	for _, bad := range []string{"", "9", "09:3", "25:00", "10:60", "aa:bb", "24:30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "07:05", FormatClock(425))
}
