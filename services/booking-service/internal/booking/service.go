// Package booking owns the appointment lifecycle: creation, state transitions and their side effects.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/availability"
	"github.com/algotwist369/bookby247/services/booking-service/internal/catalog"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
	"github.com/algotwist369/bookby247/services/booking-service/internal/notify"
	"github.com/algotwist369/bookby247/services/booking-service/internal/policy"
	"github.com/algotwist369/bookby247/services/booking-service/internal/pricing"
	"github.com/algotwist369/bookby247/services/booking-service/internal/storage"
)

// Notifier accepts events for asynchronous delivery. It must not block.
type Notifier interface {
	Submit(ctx context.Context, eventType, key string, payload any) error
}

type Deps struct {
	Store    storage.Store
	Catalog  catalog.Provider
	Notifier Notifier
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	store     storage.Store
	catalog   catalog.Provider
	notifier  Notifier
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	validator *policy.Validator
	tracer    trace.Tracer
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:     d.Store,
		catalog:   d.Catalog,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Now,
		validator: policy.NewValidator(d.Now),
		tracer:    otel.Tracer("bookby.booking"),
	}
}

type CustomerInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// CreateInput describes a new appointment. Either CustomerID or Customer must be set; either
// ServiceID or ServiceName. EndTime may be left empty to use the resolved service duration.
type CreateInput struct {
	BusinessID    string              `json:"business_id"`
	CustomerID    string              `json:"customer_id,omitempty"`
	Customer      *CustomerInput      `json:"customer,omitempty"`
	ServiceID     string              `json:"service_id,omitempty"`
	ServiceName   string              `json:"service_name,omitempty"`
	StaffID       string              `json:"staff_id,omitempty"`
	Date          string              `json:"date"`
	StartTime     string              `json:"start_time"`
	EndTime       string              `json:"end_time,omitempty"`
	Duration      int                 `json:"duration,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	Source        model.BookingSource `json:"source"`
	PaymentMethod string              `json:"payment_method,omitempty"`
	AdvanceAmount float64             `json:"advance_amount,omitempty"`
	Discount      float64             `json:"discount,omitempty"`
	InitialStatus model.Status        `json:"initial_status,omitempty"`
	// IdempotencyKey makes retries of the same request return the appointment created first.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// Payment is set by callers that verified a payment with the provider. It replaces
	// AdvanceAmount and its reference can be redeemed by one appointment only.
	Payment *VerifiedPayment `json:"-"`
}

type VerifiedPayment struct {
	Ref    string
	Amount float64
}

type prepared struct {
	in     CreateInput
	policy model.BusinessPolicy
	staff  *model.Staff
	quote  pricing.Quote
}

// prepare resolves configuration and normalizes the input. It never touches appointments.
// Missing fields fail fast; other problems are returned as violations so callers can report
// them together with policy and money checks.
func (s *Service) prepare(ctx context.Context, in CreateInput) (prepared, []string, error) {
	in.BusinessID = strings.TrimSpace(in.BusinessID)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.ServiceName = strings.TrimSpace(in.ServiceName)
	in.StaffID = strings.TrimSpace(in.StaffID)
	in.Date = strings.TrimSpace(in.Date)
	in.StartTime = strings.TrimSpace(in.StartTime)
	in.EndTime = strings.TrimSpace(in.EndTime)
	if in.Source == "" {
		in.Source = model.SourceInternal
	}

	var missing []string
	if in.BusinessID == "" {
		missing = append(missing, "business_id is required")
	}
	if in.CustomerID == "" && (in.Customer == nil || in.Customer.Phone == "") {
		missing = append(missing, "customer is required")
	}
	if in.ServiceID == "" && in.ServiceName == "" {
		missing = append(missing, "service is required")
	}
	if in.Date == "" {
		missing = append(missing, "date is required")
	}
	if in.StartTime == "" {
		missing = append(missing, "start_time is required")
	}
	if len(missing) > 0 {
		return prepared{}, nil, apperr.Validation(missing...)
	}

	pol, err := s.catalog.Policy(ctx, in.BusinessID)
	if err != nil {
		return prepared{}, nil, err
	}

	var svc model.Service
	if in.ServiceID != "" {
		svc, err = s.catalog.Service(ctx, in.ServiceID)
	} else {
		svc, err = s.catalog.ServiceByName(ctx, in.BusinessID, in.ServiceName)
	}
	if err != nil {
		return prepared{}, nil, err
	}
	if svc.BusinessID != in.BusinessID {
		return prepared{}, nil, apperr.NotFound("service", in.ServiceID+in.ServiceName)
	}
	var violations []string
	if !svc.Active {
		violations = append(violations, "service is not available for booking")
	}
	in.ServiceID = svc.ID

	var staff *model.Staff
	if in.StaffID != "" {
		st, err := s.catalog.Staff(ctx, in.StaffID)
		if err != nil {
			return prepared{}, nil, err
		}
		staff = &st
	}

	start, startErr := availability.ParseClock(in.StartTime)
	requested := in.Duration
	if requested <= 0 && in.EndTime != "" && startErr == nil {
		if end, err := availability.ParseClock(in.EndTime); err == nil && end > start {
			requested = end - start
		}
	}
	quote := pricing.Resolve(svc, requested)
	if in.EndTime == "" && startErr == nil {
		in.EndTime = availability.FormatClock(start + quote.Duration)
	}

	return prepared{in: in, policy: pol, staff: staff, quote: quote}, violations, nil
}

func (p prepared) request(excludeID string, skipAdvance bool) policy.Request {
	return policy.Request{
		Policy:            p.policy,
		BusinessID:        p.in.BusinessID,
		Staff:             p.staff,
		Date:              p.in.Date,
		Start:             p.in.StartTime,
		End:               p.in.EndTime,
		Source:            p.in.Source,
		ExcludeID:         excludeID,
		SkipAdvanceWindow: skipAdvance,
	}
}

// draft builds the appointment value and reports money violations.
func (s *Service) draft(p prepared, actor model.Actor, customerID string, w policy.Window) (model.Appointment, []string, error) {
	var violations []string
	discount := 0.0
	if actor.Trusted() {
		discount = p.in.Discount
	}
	totals := pricing.Compute(p.quote.Price, p.policy.TaxRatePercent, discount)

	advance := pricing.Round2(p.in.AdvanceAmount)
	var paymentRef string
	if p.in.Payment != nil {
		advance = pricing.Round2(p.in.Payment.Amount)
		paymentRef = strings.TrimSpace(p.in.Payment.Ref)
		if paymentRef == "" {
			violations = append(violations, "payment reference is required")
		}
	}
	if advance < 0 {
		violations = append(violations, "advance amount cannot be negative")
	}
	if advance > totals.Total {
		violations = append(violations, fmt.Sprintf("advance amount %.2f exceeds total %.2f", advance, totals.Total))
	}

	status := model.StatusPending
	if actor.Trusted() && p.in.InitialStatus == model.StatusConfirmed {
		status = model.StatusConfirmed
	}

	code, err := NewConfirmationCode()
	if err != nil {
		return model.Appointment{}, nil, err
	}
	now := s.now()
	return model.Appointment{
		ID:               uuid.NewString(),
		ConfirmationCode: code,
		BusinessID:       p.in.BusinessID,
		CustomerID:       customerID,
		ServiceID:        p.in.ServiceID,
		StaffID:          p.in.StaffID,
		Date:             p.in.Date,
		StartTime:        p.in.StartTime,
		EndTime:          p.in.EndTime,
		Duration:         w.End - w.Start,
		ServicePrice:     totals.ServicePrice,
		Tax:              totals.Tax,
		Discount:         totals.Discount,
		TotalAmount:      totals.Total,
		PaidAmount:       advance,
		PaymentStatus:    model.DerivePaymentStatus(advance, totals.Total),
		PaymentMethod:    p.in.PaymentMethod,
		PaymentRef:       paymentRef,
		BookingSource:    p.in.Source,
		Notes:            strings.TrimSpace(p.in.Notes),
		Status:           status,
		CreatedBy:        actor.ID,
		UpdatedBy:        actor.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, violations, nil
}

// Check validates a booking request against policy and current availability without
// persisting anything, and returns the normalized input.
func (s *Service) Check(ctx context.Context, in CreateInput) (CreateInput, error) {
	ctx, span := s.tracer.Start(ctx, "booking.check")
	defer span.End()

	p, violations, err := s.prepare(ctx, in)
	if err != nil {
		return CreateInput{}, s.fail(span, err)
	}
	req := p.request("", false)
	w, policyViolations := s.validator.Check(req)
	if violations = append(violations, policyViolations...); len(violations) > 0 {
		return CreateInput{}, s.fail(span, apperr.Validation(violations...))
	}
	existing, err := s.store.ListActiveByDate(ctx, p.in.BusinessID, p.in.Date)
	if err != nil {
		return CreateInput{}, s.fail(span, err)
	}
	if err := s.validator.CheckAvailability(req, w, existing); err != nil {
		return CreateInput{}, s.fail(span, err)
	}
	return p.in, nil
}

// Create validates and persists a new appointment. Availability is re-checked while the
// (scope, date) lock is held, so of two overlapping concurrent creates exactly one wins.
// A repeated IdempotencyKey returns the appointment the key first created.
func (s *Service) Create(ctx context.Context, in CreateInput, actor model.Actor) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("business.id", in.BusinessID),
		attribute.String("appointment.date", in.Date),
	))
	defer span.End()
	defer func() { s.metrics.ObserveOp("create", err) }()

	in.BusinessID = strings.TrimSpace(in.BusinessID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.Source != model.SourcePublic && !actor.CanAccess(in.BusinessID) {
		return model.Appointment{}, s.fail(span, apperr.Forbidden("actor cannot book for this business"))
	}
	if actor.Role == model.RoleCustomer {
		in.CustomerID = actor.ID
		in.Customer = nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	keyed := in.IdempotencyKey != "" && in.BusinessID != ""
	if keyed {
		rec, exists, err := tx.LockIdempotencyKey(ctx, in.BusinessID, in.IdempotencyKey)
		if err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
		if exists {
			_ = tx.Rollback(ctx)
			return s.replay(ctx, rec, actor)
		}
	}

	p, violations, err := s.prepare(ctx, in)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	req := p.request("", false)
	w, policyViolations := s.validator.Check(req)
	violations = append(violations, policyViolations...)
	draft, moneyViolations, err := s.draft(p, actor, p.in.CustomerID, w)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if violations = append(violations, moneyViolations...); len(violations) > 0 {
		return model.Appointment{}, s.fail(span, apperr.Validation(violations...))
	}

	if err := tx.LockScope(ctx, draft.ScopeKey(), draft.Date); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	existing, err := tx.ListActiveByDate(ctx, draft.BusinessID, draft.Date)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := s.validator.CheckAvailability(req, w, existing); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}

	if p.in.Customer != nil && draft.CustomerID == "" {
		customer, err := tx.UpsertCustomerByPhone(ctx, model.Customer{
			ID:         uuid.NewString(),
			BusinessID: draft.BusinessID,
			Name:       strings.TrimSpace(p.in.Customer.Name),
			Phone:      strings.TrimSpace(p.in.Customer.Phone),
			Email:      strings.TrimSpace(p.in.Customer.Email),
		})
		if err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
		draft.CustomerID = customer.ID
	}

	if err := insertWithCode(ctx, tx, &draft); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if keyed {
		if err := tx.FinalizeIdempotency(ctx, draft.BusinessID, in.IdempotencyKey, draft.ID); err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("appointment.id", draft.ID))
	s.logger.Info("appointment created", "appointment_id", draft.ID, "business_id", draft.BusinessID,
		"date", draft.Date, "start", draft.StartTime, "source", draft.BookingSource)
	s.publish(ctx, notify.EventAppointmentCreated, draft)
	return draft, nil
}

const maxCodeAttempts = 3

// insertWithCode draws a fresh confirmation code when the current one is already issued.
func insertWithCode(ctx context.Context, tx storage.Tx, draft *model.Appointment) error {
	for attempt := 1; ; attempt++ {
		err := tx.Insert(ctx, *draft)
		if !errors.Is(err, storage.ErrCodeTaken) || attempt == maxCodeAttempts {
			return err
		}
		code, err := NewConfirmationCode()
		if err != nil {
			return err
		}
		draft.ConfirmationCode = code
	}
}

// replay returns the appointment an idempotency key already produced.
func (s *Service) replay(ctx context.Context, rec storage.IdempotencyRecord, actor model.Actor) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, rec.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.Trusted() && !actor.Owns(appt) {
		return model.Appointment{}, apperr.Conflict("idempotency key already used")
	}
	s.logger.Info("idempotent replay", "appointment_id", appt.ID, "business_id", rec.BusinessID)
	return appt, nil
}

// authorize lets business staff act on any appointment of their business. Customers may only
// act on their own appointments, and only where ownerAllowed.
func authorize(actor model.Actor, a model.Appointment, ownerAllowed bool) error {
	if !actor.CanAccess(a.BusinessID) {
		return apperr.Forbidden("actor cannot access this appointment")
	}
	if actor.Trusted() || (ownerAllowed && actor.Owns(a)) {
		return nil
	}
	return apperr.Forbidden("actor cannot perform this action")
}

func (s *Service) Confirm(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, "confirm", notify.EventAppointmentConfirmed, id, actor, false,
		func(a model.Appointment, now time.Time) (model.Appointment, error) {
			return Confirm(a, actor, now)
		})
}

func (s *Service) Start(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, "start", notify.EventAppointmentStarted, id, actor, false,
		func(a model.Appointment, now time.Time) (model.Appointment, error) {
			return Start(a, actor, now)
		})
}

func (s *Service) MarkNoShow(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, "no_show", notify.EventAppointmentNoShow, id, actor, false,
		func(a model.Appointment, now time.Time) (model.Appointment, error) {
			return MarkNoShow(a, actor, now)
		})
}

func (s *Service) AddReview(ctx context.Context, id string, rating int, text string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, "review", "", id, actor, true,
		func(a model.Appointment, now time.Time) (model.Appointment, error) {
			return AddReview(a, rating, strings.TrimSpace(text), actor, now)
		})
}

type CancelRequest struct {
	Reason string
	Fee    float64
}

// Cancel applies the business cancellation policy to customer-side actors.
func (s *Service) Cancel(ctx context.Context, id string, req CancelRequest, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, "cancel", notify.EventAppointmentCancelled, id, actor, true,
		func(a model.Appointment, now time.Time) (model.Appointment, error) {
			if a.Status.Terminal() {
				return Cancel(a, CancelInput{}, actor, now)
			}
			pol, err := s.catalog.Policy(ctx, a.BusinessID)
			if err != nil {
				return a, err
			}
			if !actor.Trusted() {
				if !pol.Cancellation.Allowed {
					return a, &apperr.Error{Kind: apperr.ErrState, Message: "cancellation not allowed"}
				}
				if pol.Cancellation.MinNoticeHours > 0 {
					startsAt, err := startInstant(a, pol)
					if err != nil {
						return a, err
					}
					if startsAt.Sub(now) < time.Duration(pol.Cancellation.MinNoticeHours)*time.Hour {
						return a, apperr.Validation(fmt.Sprintf("cancellations require at least %d hours notice", pol.Cancellation.MinNoticeHours))
					}
				}
			}
			return Cancel(a, CancelInput{Reason: req.Reason, Fee: req.Fee, RefundPercent: pol.Cancellation.RefundPercent}, actor, now)
		})
}

func startInstant(a model.Appointment, pol model.BusinessPolicy) (time.Time, error) {
	day, err := availability.ParseDate(a.Date, pol.Location())
	if err != nil {
		return time.Time{}, err
	}
	start, err := availability.ParseClock(a.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	return availability.At(day, start), nil
}

// transition runs a single-row state change under the appointment's row lock.
func (s *Service) transition(ctx context.Context, op, event, id string, actor model.Actor, ownerAllowed bool,
	apply func(model.Appointment, time.Time) (model.Appointment, error)) (out model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()
	defer func() { s.metrics.ObserveOp(op, err) }()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := authorize(actor, current, ownerAllowed); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	next, err := apply(current, s.now())
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := tx.Update(ctx, next); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}

	s.logger.Info("appointment "+op, "appointment_id", id, "status", next.Status, "actor_id", actor.ID)
	if event != "" {
		s.publish(ctx, event, next)
	}
	return next, nil
}

// Complete finishes an appointment. The ledger entry is written once per appointment no matter
// how often this is called; visit aggregates and loyalty points are applied on every call.
func (s *Service) Complete(ctx context.Context, id string, loyaltyPoints int, actor model.Actor) (out model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.complete", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()
	defer func() { s.metrics.ObserveOp("complete", err) }()

	if loyaltyPoints < 0 {
		return model.Appointment{}, s.fail(span, apperr.Validation("loyalty points cannot be negative"))
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := authorize(actor, current, false); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	now := s.now()
	next, first, err := Complete(current, actor, now)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if first {
		if err := tx.Update(ctx, next); err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
	}

	created, err := tx.InsertLedger(ctx, model.LedgerEntry{
		ID:            uuid.NewString(),
		AppointmentID: next.ID,
		BusinessID:    next.BusinessID,
		CustomerID:    next.CustomerID,
		Amount:        next.TotalAmount,
		PaidAmount:    next.PaidAmount,
		Method:        next.PaymentMethod,
		CreatedAt:     now,
	})
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := tx.BumpCustomerVisit(ctx, next.CustomerID, next.TotalAmount, now); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if loyaltyPoints > 0 {
		if err := tx.GrantLoyalty(ctx, model.LoyaltyGrant{
			ID:            uuid.NewString(),
			AppointmentID: next.ID,
			BusinessID:    next.BusinessID,
			CustomerID:    next.CustomerID,
			Points:        loyaltyPoints,
			CreatedAt:     now,
		}); err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}

	s.logger.Info("appointment completed", "appointment_id", id, "first", first, "ledger_created", created, "loyalty_points", loyaltyPoints)
	if first {
		s.publish(ctx, notify.EventAppointmentCompleted, next)
	}
	return next, nil
}

type RescheduleRequest struct {
	Date      string
	StartTime string
	EndTime   string
	Reason    string
}

// Reschedule moves an appointment, checking availability against everything but itself.
func (s *Service) Reschedule(ctx context.Context, id string, req RescheduleRequest, actor model.Actor) (out model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.reschedule", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()
	defer func() { s.metrics.ObserveOp("reschedule", err) }()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := authorize(actor, current, true); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if current.Status.Terminal() {
		return model.Appointment{}, s.fail(span, apperr.State(string(current.Status), "reschedule"))
	}

	pol, err := s.catalog.Policy(ctx, current.BusinessID)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	var staff *model.Staff
	if current.StaffID != "" {
		st, err := s.catalog.Staff(ctx, current.StaffID)
		if err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
		staff = &st
	}
	vreq := policy.Request{
		Policy:            pol,
		BusinessID:        current.BusinessID,
		Staff:             staff,
		Date:              strings.TrimSpace(req.Date),
		Start:             strings.TrimSpace(req.StartTime),
		End:               strings.TrimSpace(req.EndTime),
		Source:            model.SourceInternal,
		ExcludeID:         current.ID,
		SkipAdvanceWindow: actor.Trusted(),
	}
	w, violations := s.validator.Check(vreq)
	if len(violations) > 0 {
		return model.Appointment{}, s.fail(span, apperr.Validation(violations...))
	}

	now := s.now()
	next, err := Reschedule(current, Schedule{Date: vreq.Date, StartTime: vreq.Start, EndTime: vreq.End, Duration: w.End - w.Start},
		strings.TrimSpace(req.Reason), actor, now)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if next.Duration != current.Duration {
		if err := s.reprice(ctx, &next, pol); err != nil {
			return model.Appointment{}, s.fail(span, err)
		}
	}

	if err := tx.LockScope(ctx, next.ScopeKey(), next.Date); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	existing, err := tx.ListActiveByDate(ctx, next.BusinessID, next.Date)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := s.validator.CheckAvailability(vreq, w, existing); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := tx.Update(ctx, next); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, s.fail(span, err)
	}

	s.logger.Info("appointment rescheduled", "appointment_id", id, "date", next.Date, "start", next.StartTime, "actor_id", actor.ID)
	s.publish(ctx, notify.EventAppointmentRescheduled, next)
	return next, nil
}

// reprice recomputes money fields when a reschedule changes the duration.
func (s *Service) reprice(ctx context.Context, a *model.Appointment, pol model.BusinessPolicy) error {
	svc, err := s.catalog.Service(ctx, a.ServiceID)
	if err != nil {
		return err
	}
	quote := pricing.Resolve(svc, a.Duration)
	totals := pricing.Compute(quote.Price, pol.TaxRatePercent, a.Discount)
	if a.PaidAmount > totals.Total {
		return apperr.Validation(fmt.Sprintf("paid amount %.2f exceeds new total %.2f", a.PaidAmount, totals.Total))
	}
	a.ServicePrice = totals.ServicePrice
	a.Tax = totals.Tax
	a.Discount = totals.Discount
	a.TotalAmount = totals.Total
	a.PaymentStatus = model.DerivePaymentStatus(a.PaidAmount, a.TotalAmount)
	return nil
}

type SlotQuery struct {
	BusinessID string
	Date       string
	StaffID    string
	ServiceID  string
	Duration   int
}

func (s *Service) AvailableSlots(ctx context.Context, q SlotQuery) ([]availability.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "booking.slots", trace.WithAttributes(
		attribute.String("business.id", q.BusinessID),
		attribute.String("appointment.date", q.Date),
	))
	defer span.End()

	pol, err := s.catalog.Policy(ctx, q.BusinessID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	duration := q.Duration
	if q.ServiceID != "" {
		svc, err := s.catalog.Service(ctx, q.ServiceID)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if svc.BusinessID != q.BusinessID {
			return nil, s.fail(span, apperr.NotFound("service", q.ServiceID))
		}
		duration = pricing.Resolve(svc, q.Duration).Duration
	}
	existing, err := s.store.ListActiveByDate(ctx, q.BusinessID, q.Date)
	if err != nil {
		return nil, s.fail(span, err)
	}
	slots, err := availability.Generate(availability.SlotQuery{
		Policy:   pol,
		Date:     q.Date,
		StaffID:  q.StaffID,
		Duration: duration,
		Existing: existing,
		Now:      s.now(),
	})
	if err != nil {
		return nil, s.fail(span, apperr.Validation(err.Error()))
	}
	return slots, nil
}

func (s *Service) Get(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := authorize(actor, appt, true); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, f storage.Filter, actor model.Actor) ([]model.Appointment, error) {
	if f.BusinessID == "" {
		f.BusinessID = actor.BusinessID
	}
	if !actor.CanAccess(f.BusinessID) {
		return nil, apperr.Forbidden("actor cannot access this business")
	}
	if !actor.Trusted() {
		f.CustomerID = actor.ID
	}
	return s.store.List(ctx, f)
}

// publish hands the event to the notifier. Failures are logged; the booking is already committed.
func (s *Service) publish(ctx context.Context, event string, appt model.Appointment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Submit(ctx, event, appt.ID, EventPayload(appt)); err != nil {
		s.logger.Warn("notification not queued", "err", err, "event_type", event, "appointment_id", appt.ID)
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", Result(err)))
	return err
}

// AppointmentEvent is the payload published for lifecycle events.
type AppointmentEvent struct {
	AppointmentID    string  `json:"appointment_id"`
	ConfirmationCode string  `json:"confirmation_code"`
	BusinessID       string  `json:"business_id"`
	CustomerID       string  `json:"customer_id"`
	ServiceID        string  `json:"service_id"`
	StaffID          string  `json:"staff_id,omitempty"`
	Date             string  `json:"date"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	Status           string  `json:"status"`
	TotalAmount      float64 `json:"total_amount"`
	PaymentStatus    string  `json:"payment_status"`
}

func EventPayload(a model.Appointment) AppointmentEvent {
	return AppointmentEvent{
		AppointmentID:    a.ID,
		ConfirmationCode: a.ConfirmationCode,
		BusinessID:       a.BusinessID,
		CustomerID:       a.CustomerID,
		ServiceID:        a.ServiceID,
		StaffID:          a.StaffID,
		Date:             a.Date,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		Status:           string(a.Status),
		TotalAmount:      a.TotalAmount,
		PaymentStatus:    string(a.PaymentStatus),
	}
}
