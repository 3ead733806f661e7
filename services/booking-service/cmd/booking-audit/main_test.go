package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algotwist369/bookby247/services/booking-service/internal/catalog"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
	"github.com/algotwist369/bookby247/services/booking-service/internal/storage"
)

func stored(id, staff, date, start, end string, status model.Status) model.Appointment {
	return model.Appointment{ID: id, BusinessID: "b1", StaffID: staff, Date: date, StartTime: start, EndTime: end, Status: status}
}

func TestRunReportsSameScopeOverlaps(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put(stored("a1", "", "2026-03-02", "10:00", "11:00", model.StatusConfirmed))
	store.Put(stored("a2", "", "2026-03-02", "10:30", "11:30", model.StatusPending))
	store.Put(stored("a3", "staff-a", "2026-03-02", "10:00", "11:00", model.StatusConfirmed))
	store.Put(stored("a4", "staff-a", "2026-03-02", "11:05", "11:30", model.StatusConfirmed))
	store.Put(stored("a5", "staff-b", "2026-03-02", "10:00", "11:00", model.StatusCancelled))
	store.Put(stored("a6", "", "2026-02-01", "10:00", "11:00", model.StatusConfirmed))
	store.Put(stored("a7", "", "2026-02-01", "10:00", "11:00", model.StatusConfirmed))

	policies := catalog.NewStaticProvider().PutPolicy(model.BusinessPolicy{ID: "b1", BufferMinutes: 10})
	var out bytes.Buffer
	n, err := run(context.Background(), store, policies, "2026-03-01", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "staff-less pair plus the staff-a pair within the buffer")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var f finding
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &f))
	assert.Equal(t, "b1", f.BusinessID)
	assert.Equal(t, "2026-03-02", f.Date)
}

func TestRunCleanData(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put(stored("a1", "staff-a", "2026-03-02", "10:00", "10:30", model.StatusConfirmed))
	store.Put(stored("a2", "staff-a", "2026-03-02", "10:30", "11:00", model.StatusConfirmed))

	n, err := run(context.Background(), store, catalog.NewStaticProvider(), "2026-03-01", io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(0, nil))
	assert.Equal(t, 1, exitCode(3, nil))
	assert.Equal(t, 2, exitCode(0, errors.New("db down")))
	assert.Equal(t, 2, exitCode(3, errors.New("encode failed")))
}
