package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

func TestMemoryLockScopeSerializes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, first.LockScope(ctx, "b1:business", "2026-03-02"))

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		second, _ := store.Begin(ctx)
		_ = second.LockScope(ctx, "b1:business", "2026-03-02")
		acquired.Store(true)
		_ = second.Rollback(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "second transaction must wait for the scope lock")
	require.NoError(t, first.Commit(ctx))
	<-done
	assert.True(t, acquired.Load())
}

func TestMemoryLockScopeHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	holder, _ := store.Begin(context.Background())
	require.NoError(t, holder.LockScope(context.Background(), "k", "d"))
	defer holder.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	waiter, _ := store.Begin(ctx)
	assert.ErrorIs(t, waiter.LockScope(ctx, "k", "d"), context.DeadlineExceeded)
}

func TestMemoryRollbackDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, _ := store.Begin(ctx)
	appt := sampleAppointment()
	require.NoError(t, tx.Insert(ctx, appt))

	visible, err := tx.ListActiveByDate(ctx, "b1", "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, visible, 1, "staged writes are visible inside the transaction")

	require.NoError(t, tx.Rollback(ctx))
	_, err = store.Get(ctx, appt.ID)
	assert.Error(t, err)
}

func TestMemoryLedgerOnceUnderRace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(sampleAppointment())

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, _ := store.Begin(ctx)
			defer tx.Rollback(ctx)
			if _, err := tx.GetForUpdate(ctx, sampleAppointment().ID); err != nil {
				return
			}
			ok, _ := tx.InsertLedger(ctx, model.LedgerEntry{AppointmentID: sampleAppointment().ID})
			if ok {
				created.Add(1)
			}
			_ = tx.Commit(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
	assert.Len(t, store.LedgerEntries(sampleAppointment().ID), 1)
}

func TestMemoryUpsertCustomerByPhone(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, _ := store.Begin(ctx)
	c1, err := tx.UpsertCustomerByPhone(ctx, model.Customer{BusinessID: "b1", Phone: "+919800000001", Name: "Asha"})
	require.NoError(t, err)
	require.NoError(t, tx.BumpCustomerVisit(ctx, c1.ID, 500, time.Now()))
	require.NoError(t, tx.Commit(ctx))

	tx, _ = store.Begin(ctx)
	c2, err := tx.UpsertCustomerByPhone(ctx, model.Customer{BusinessID: "b1", Phone: "+919800000001", Name: "Other"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, c1.ID, c2.ID)
	stored, ok := store.Customer(c1.ID)
	require.True(t, ok)
	assert.Equal(t, 1, stored.VisitCount)
	assert.Equal(t, 500.0, stored.TotalSpent)
}

func TestMemoryPaymentRefRedeemedOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var inserted, conflicts atomic.Int32
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			appt := sampleAppointment()
			appt.ID = fmt.Sprintf("6f1c1f9e-8a0a-4d55-9a57-3d1f1b0f01%02d", i)
			appt.ConfirmationCode = fmt.Sprintf("BKREF%05d", i)
			appt.PaymentRef = "pi_shared"
			tx, _ := store.Begin(ctx)
			err := tx.Insert(ctx, appt)
			if err != nil {
				_ = tx.Rollback(ctx)
				if errors.Is(err, apperr.ErrConflict) {
					conflicts.Add(1)
				}
				return
			}
			assert.NoError(t, tx.Commit(ctx))
			inserted.Add(1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	assert.Equal(t, int32(5), conflicts.Load())
}

func TestMemoryInsertReportsTakenCode(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(sampleAppointment())

	dup := sampleAppointment()
	dup.ID = "6f1c1f9e-8a0a-4d55-9a57-3d1f1b0f0002"
	tx, _ := store.Begin(ctx)
	defer tx.Rollback(ctx)
	assert.ErrorIs(t, tx.Insert(ctx, dup), ErrCodeTaken)
}

func TestMemoryIdempotencyKeyWaitsForHolder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, _ := store.Begin(ctx)
	_, exists, err := first.LockIdempotencyKey(ctx, "b1", "key-1")
	require.NoError(t, err)
	assert.False(t, exists)

	type claim struct {
		rec    IdempotencyRecord
		exists bool
	}
	got := make(chan claim, 1)
	go func() {
		second, _ := store.Begin(ctx)
		defer second.Rollback(ctx)
		rec, exists, _ := second.LockIdempotencyKey(ctx, "b1", "key-1")
		got <- claim{rec: rec, exists: exists}
	}()

	select {
	case <-got:
		t.Fatal("second claim must wait for the first transaction")
	case <-time.After(20 * time.Millisecond):
	}

	appt := sampleAppointment()
	require.NoError(t, first.Insert(ctx, appt))
	require.NoError(t, first.FinalizeIdempotency(ctx, "b1", "key-1", appt.ID))
	require.NoError(t, first.Commit(ctx))

	c := <-got
	assert.True(t, c.exists)
	assert.Equal(t, appt.ID, c.rec.AppointmentID)

	other, _ := store.Begin(ctx)
	defer other.Rollback(ctx)
	_, exists, err = other.LockIdempotencyKey(ctx, "b2", "key-1")
	require.NoError(t, err)
	assert.False(t, exists, "keys are scoped per business")
}

func TestMemoryListFiltersByCustomer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	mine := sampleAppointment()
	theirs := sampleAppointment()
	theirs.ID = "6f1c1f9e-8a0a-4d55-9a57-3d1f1b0f0003"
	theirs.CustomerID = "c2"
	store.Put(mine)
	store.Put(theirs)

	got, err := store.List(ctx, Filter{BusinessID: "b1", CustomerID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
}
