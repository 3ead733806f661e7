package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/availability"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appointmentColumns = `id::text, confirmation_code, business_id, customer_id, service_id, staff_id,
	starts_at, ends_at, duration_minutes,
	service_price, tax, discount, total_amount, paid_amount, payment_status, payment_method, payment_ref, booking_source,
	notes, status, check_in_at, completed_at, cancellation, reschedule_history, review,
	created_by, updated_by, created_at, updated_at`

var activeStatuses = []string{string(model.StatusPending), string(model.StatusConfirmed), string(model.StatusInProgress)}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if IsNotFound(err) {
		return model.Appointment{}, apperr.NotFound("appointment", id)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]model.Appointment, error) {
	var (
		where = []string{"business_id = $1"}
		args  = []any{f.BusinessID}
	)
	if f.Date != "" {
		from, to, err := dayBounds(f.Date)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		args = append(args, from, to)
		where = append(where, fmt.Sprintf("starts_at >= $%d AND starts_at < $%d", len(args)-1, len(args)))
	}
	if f.StaffID != "" {
		args = append(args, f.StaffID)
		where = append(where, fmt.Sprintf("staff_id = $%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, f.limit())
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY starts_at ASC LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) ListActiveByDate(ctx context.Context, businessID, date string) ([]model.Appointment, error) {
	return listActiveByDate(ctx, s.db, businessID, date)
}

// ListActiveFrom returns every active appointment starting on or after fromDate, for audits.
func (s *PostgresStore) ListActiveFrom(ctx context.Context, fromDate string) ([]model.Appointment, error) {
	from, _, err := dayBounds(fromDate)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE starts_at >= $1 AND status = ANY($2)
		ORDER BY business_id, starts_at ASC
	`, from, activeStatuses)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return collect(rows)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listActiveByDate(ctx context.Context, q queryer, businessID, date string) ([]model.Appointment, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND starts_at >= $2
			AND starts_at < $3
			AND status = ANY($4)
		ORDER BY starts_at ASC
	`, businessID, from, to, activeStatuses)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return collect(rows)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockScope(ctx context.Context, scopeKey, date string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(scopeKey, date))
	if err != nil {
		return fmt.Errorf("lock scope: %w", err)
	}
	return nil
}

func (t *pgTx) ListActiveByDate(ctx context.Context, businessID, date string) ([]model.Appointment, error) {
	return listActiveByDate(ctx, t.tx, businessID, date)
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if IsNotFound(err) {
		return model.Appointment{}, apperr.NotFound("appointment", id)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("get appointment for update: %w", err)
	}
	return appt, nil
}

func (t *pgTx) Insert(ctx context.Context, a model.Appointment) error {
	r, err := toRow(a)
	if err != nil {
		return err
	}
	// A duplicate confirmation code skips the row instead of aborting the transaction.
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, confirmation_code, business_id, customer_id, service_id, staff_id, scope_key,
			starts_at, ends_at, duration_minutes,
			service_price, tax, discount, total_amount, paid_amount, payment_status, payment_method, payment_ref, booking_source,
			notes, status, check_in_at, completed_at, cancellation, reschedule_history, review,
			created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		ON CONFLICT (confirmation_code) DO NOTHING
	`, a.ID, a.ConfirmationCode, a.BusinessID, a.CustomerID, a.ServiceID, a.StaffID, a.ScopeKey(),
		r.startsAt, r.endsAt, a.Duration,
		a.ServicePrice, a.Tax, a.Discount, a.TotalAmount, a.PaidAmount, string(a.PaymentStatus), a.PaymentMethod, a.PaymentRef, string(a.BookingSource),
		a.Notes, string(a.Status), a.CheckInAt, a.CompletedAt, r.cancellation, r.history, r.review,
		a.CreatedBy, a.UpdatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapWriteErr("insert appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCodeTaken
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, a model.Appointment) error {
	r, err := toRow(a)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET starts_at = $2,
			ends_at = $3,
			duration_minutes = $4,
			service_price = $5,
			tax = $6,
			discount = $7,
			total_amount = $8,
			paid_amount = $9,
			payment_status = $10,
			status = $11,
			check_in_at = $12,
			completed_at = $13,
			cancellation = $14,
			reschedule_history = $15,
			review = $16,
			updated_by = $17,
			updated_at = $18
		WHERE id = $1
	`, a.ID, r.startsAt, r.endsAt, a.Duration,
		a.ServicePrice, a.Tax, a.Discount, a.TotalAmount, a.PaidAmount, string(a.PaymentStatus),
		string(a.Status), a.CheckInAt, a.CompletedAt, r.cancellation, r.history, r.review,
		a.UpdatedBy, a.UpdatedAt)
	if err != nil {
		return mapWriteErr("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment", a.ID)
	}
	return nil
}

func (t *pgTx) InsertLedger(ctx context.Context, e model.LedgerEntry) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, appointment_id, business_id, customer_id, amount, paid_amount, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (appointment_id) DO NOTHING
	`, e.ID, e.AppointmentID, e.BusinessID, e.CustomerID, e.Amount, e.PaidAmount, e.Method, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) BumpCustomerVisit(ctx context.Context, customerID string, amount float64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE customers
		SET visit_count = visit_count + 1,
			total_spent = total_spent + $2,
			last_visit_at = $3
		WHERE id::text = $1
	`, customerID, amount, at)
	if err != nil {
		return fmt.Errorf("bump customer visit: %w", err)
	}
	return nil
}

func (t *pgTx) GrantLoyalty(ctx context.Context, g model.LoyaltyGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO loyalty_grants (id, appointment_id, business_id, customer_id, points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.AppointmentID, g.BusinessID, g.CustomerID, g.Points, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("grant loyalty: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertCustomerByPhone(ctx context.Context, c model.Customer) (model.Customer, error) {
	var out model.Customer
	err := t.tx.QueryRow(ctx, `
		INSERT INTO customers (id, business_id, name, phone, email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (business_id, phone) DO UPDATE
		SET name = CASE WHEN customers.name = '' THEN EXCLUDED.name ELSE customers.name END,
			email = CASE WHEN customers.email = '' THEN EXCLUDED.email ELSE customers.email END
		RETURNING id::text, business_id, name, phone, email, visit_count, total_spent, last_visit_at
	`, c.ID, c.BusinessID, c.Name, c.Phone, c.Email).Scan(
		&out.ID,
		&out.BusinessID,
		&out.Name,
		&out.Phone,
		&out.Email,
		&out.VisitCount,
		&out.TotalSpent,
		&out.LastVisitAt,
	)
	if err != nil {
		return model.Customer{}, fmt.Errorf("upsert customer: %w", err)
	}
	return out, nil
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, businessID, key string) (IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, businessID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, fmt.Errorf("lock idempotency key: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("claim idempotency key: %w", err)
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("lock idempotency key: %w", err)
	}
	// Another transaction may have committed the key while our insert waited on it.
	return rec, rec.AppointmentID != "", nil
}

func (t *pgTx) selectIdempotencyForUpdate(ctx context.Context, businessID, key string) (IdempotencyRecord, error) {
	rec := IdempotencyRecord{BusinessID: businessID, IdempotencyKey: key}
	var appointmentID *string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id::text
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(&appointmentID)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if appointmentID != nil {
		rec.AppointmentID = *appointmentID
	}
	return rec, nil
}

func (t *pgTx) FinalizeIdempotency(ctx context.Context, businessID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID)
	if err != nil {
		return fmt.Errorf("finalize idempotency key: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapWriteErr("commit", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

type row struct {
	startsAt     time.Time
	endsAt       time.Time
	cancellation []byte
	history      []byte
	review       []byte
}

// toRow converts the wall-clock schedule into timestamps and encodes the json columns.
func toRow(a model.Appointment) (row, error) {
	var r row
	day, err := availability.ParseDate(a.Date, time.UTC)
	if err != nil {
		return row{}, err
	}
	start, err := availability.ParseClock(a.StartTime)
	if err != nil {
		return row{}, err
	}
	end, err := availability.ParseClock(a.EndTime)
	if err != nil {
		return row{}, err
	}
	r.startsAt = availability.At(day, start)
	r.endsAt = availability.At(day, end)

	history := a.RescheduleHistory
	if history == nil {
		history = []model.RescheduleEntry{}
	}
	if r.history, err = json.Marshal(history); err != nil {
		return row{}, err
	}
	if a.Cancellation != nil {
		if r.cancellation, err = json.Marshal(a.Cancellation); err != nil {
			return row{}, err
		}
	}
	if a.Review != nil {
		if r.review, err = json.Marshal(a.Review); err != nil {
			return row{}, err
		}
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(s scanner) (model.Appointment, error) {
	var (
		a                         model.Appointment
		startsAt, endsAt          time.Time
		paymentStatus, source     string
		status                    string
		cancellation, history, rv []byte
	)
	err := s.Scan(
		&a.ID,
		&a.ConfirmationCode,
		&a.BusinessID,
		&a.CustomerID,
		&a.ServiceID,
		&a.StaffID,
		&startsAt,
		&endsAt,
		&a.Duration,
		&a.ServicePrice,
		&a.Tax,
		&a.Discount,
		&a.TotalAmount,
		&a.PaidAmount,
		&paymentStatus,
		&a.PaymentMethod,
		&a.PaymentRef,
		&source,
		&a.Notes,
		&status,
		&a.CheckInAt,
		&a.CompletedAt,
		&cancellation,
		&history,
		&rv,
		&a.CreatedBy,
		&a.UpdatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Date = startsAt.Format(availability.DateLayout)
	a.StartTime = startsAt.Format("15:04")
	a.EndTime = endsAt.Format("15:04")
	if endsAt.YearDay() != startsAt.YearDay() && a.EndTime == "00:00" {
		a.EndTime = "24:00"
	}
	a.PaymentStatus = model.PaymentStatus(paymentStatus)
	a.BookingSource = model.BookingSource(source)
	a.Status = model.Status(status)

	if len(cancellation) > 0 {
		var c model.Cancellation
		if err := json.Unmarshal(cancellation, &c); err != nil {
			return model.Appointment{}, fmt.Errorf("decode cancellation: %w", err)
		}
		a.Cancellation = &c
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.RescheduleHistory); err != nil {
			return model.Appointment{}, fmt.Errorf("decode reschedule history: %w", err)
		}
		if len(a.RescheduleHistory) == 0 {
			a.RescheduleHistory = nil
		}
	}
	if len(rv) > 0 {
		var r model.Review
		if err := json.Unmarshal(rv, &r); err != nil {
			return model.Appointment{}, fmt.Errorf("decode review: %w", err)
		}
		a.Review = &r
	}
	return a, nil
}

func collect(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appts, nil
}

func dayBounds(date string) (time.Time, time.Time, error) {
	day, err := availability.ParseDate(date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return day, day.AddDate(0, 0, 1), nil
}
