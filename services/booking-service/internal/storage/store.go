package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

// Store is the appointment persistence boundary. Writes go through a Tx; LockScope makes
// "check availability, then write" atomic for a (scope, date) pair.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	List(ctx context.Context, f Filter) ([]model.Appointment, error)
	ListActiveByDate(ctx context.Context, businessID, date string) ([]model.Appointment, error)
}

type Tx interface {
	// LockScope blocks until no other transaction holds the same scope and date.
	// The lock is released on Commit or Rollback.
	LockScope(ctx context.Context, scopeKey, date string) error
	ListActiveByDate(ctx context.Context, businessID, date string) ([]model.Appointment, error)
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) error
	Update(ctx context.Context, appt model.Appointment) error
	// InsertLedger reports false when a ledger entry already exists for the appointment.
	InsertLedger(ctx context.Context, entry model.LedgerEntry) (bool, error)
	BumpCustomerVisit(ctx context.Context, customerID string, amount float64, at time.Time) error
	GrantLoyalty(ctx context.Context, grant model.LoyaltyGrant) error
	UpsertCustomerByPhone(ctx context.Context, c model.Customer) (model.Customer, error)
	// LockIdempotencyKey claims the key for this transaction. exists is true when a previous
	// transaction already committed it.
	LockIdempotencyKey(ctx context.Context, businessID, key string) (rec IdempotencyRecord, exists bool, err error)
	FinalizeIdempotency(ctx context.Context, businessID, key, appointmentID string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type IdempotencyRecord struct {
	BusinessID     string
	IdempotencyKey string
	AppointmentID  string
}

type Filter struct {
	BusinessID string
	CustomerID string
	Date       string
	StaffID    string
	Status     model.Status
	Limit      int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

func lockKey(scopeKey, date string) string {
	return scopeKey + "|" + date
}

// ErrCodeTaken means the confirmation code is already issued; the caller should draw a new one.
var ErrCodeTaken = errors.New("confirmation code already issued")

const (
	constraintNoOverlap        = "appointments_no_overlap"
	constraintPaymentRef       = "appointments_payment_ref_key"
	constraintConfirmationCode = "appointments_confirmation_code_key"
)

// mapWriteErr turns constraint violations on appointments into domain errors and wraps the rest.
func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case pgErr.Code == "23P01" && (pgErr.ConstraintName == "" || pgErr.ConstraintName == constraintNoOverlap):
		return &apperr.Error{Kind: apperr.ErrConflict, Message: "overlapping appointment", Err: err}
	case pgErr.Code == "23505" && pgErr.ConstraintName == constraintPaymentRef:
		return &apperr.Error{Kind: apperr.ErrConflict, Message: "payment already redeemed", Err: err}
	case pgErr.Code == "23505" && pgErr.ConstraintName == constraintConfirmationCode:
		return fmt.Errorf("%w: %v", ErrCodeTaken, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func IsNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	// Malformed uuid in a lookup.
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
