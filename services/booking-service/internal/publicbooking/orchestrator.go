// Package publicbooking runs the two-phase flow used by unauthenticated customers: a request
// that is either paid up front or parked behind a passcode, and a verify step that commits it.
package publicbooking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/booking"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
	"github.com/algotwist369/bookby247/services/booking-service/internal/notify"
	"github.com/algotwist369/bookby247/services/booking-service/internal/otp"
	"github.com/algotwist369/bookby247/services/booking-service/internal/payments"
)

const DefaultMaxAttempts = 5

// Bookings is the part of the booking engine the flow drives.
type Bookings interface {
	Check(ctx context.Context, in booking.CreateInput) (booking.CreateInput, error)
	Create(ctx context.Context, in booking.CreateInput, actor model.Actor) (model.Appointment, error)
}

// Passcodes stores one pending passcode per phone. Operations that change a record name the
// code hash they expect, so a newer request for the same phone is never consumed by mistake.
type Passcodes interface {
	Save(ctx context.Context, rec otp.Record) error
	Get(ctx context.Context, phone string) (otp.Record, error)
	TakeIfMatch(ctx context.Context, phone, codeHash string) (otp.Record, error)
	IncrementAttempts(ctx context.Context, phone, codeHash string) (int, error)
	Restore(ctx context.Context, rec otp.Record) (bool, error)
}

type Deps struct {
	Bookings    Bookings
	Payments    payments.Verifier
	Issuer      *otp.Issuer
	Verifier    otp.Verifier
	Passcodes   Passcodes
	Notifier    booking.Notifier
	Metrics     *booking.Metrics
	Logger      *slog.Logger
	MaxAttempts int
}

type Orchestrator struct {
	bookings    Bookings
	payments    payments.Verifier
	issuer      *otp.Issuer
	verifier    otp.Verifier
	passcodes   Passcodes
	notifier    booking.Notifier
	metrics     *booking.Metrics
	logger      *slog.Logger
	maxAttempts int
	tracer      trace.Tracer
}

func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		bookings:    d.Bookings,
		payments:    d.Payments,
		issuer:      d.Issuer,
		verifier:    d.Verifier,
		passcodes:   d.Passcodes,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		logger:      d.Logger,
		maxAttempts: d.MaxAttempts,
		tracer:      otel.Tracer("bookby.publicbooking"),
	}
}

type PaymentProof struct {
	OrderRef   string  `json:"order_ref"`
	PaymentRef string  `json:"payment_ref"`
	Signature  string  `json:"signature"`
	Amount     float64 `json:"amount"`
}

type Request struct {
	BusinessID    string                `json:"business_id"`
	Customer      booking.CustomerInput `json:"customer"`
	ServiceID     string                `json:"service_id,omitempty"`
	ServiceName   string                `json:"service_name,omitempty"`
	Duration      int                   `json:"duration,omitempty"`
	StaffID       string                `json:"staff_id,omitempty"`
	Date          string                `json:"date"`
	StartTime     string                `json:"start_time"`
	Notes         string                `json:"notes,omitempty"`
	PaymentMethod string                `json:"payment_method,omitempty"`
	Payment       *PaymentProof         `json:"payment,omitempty"`
	// IdempotencyKey comes from the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

// Result is either a pending verification or a committed appointment.
type Result struct {
	RequiresVerification bool               `json:"requires_verification"`
	Phone                string             `json:"phone,omitempty"`
	ExpiresAt            *time.Time         `json:"expires_at,omitempty"`
	Appointment          *model.Appointment `json:"appointment,omitempty"`
}

// PasscodeRequested is the payload handed to the delivery channel.
type PasscodeRequested struct {
	BusinessID string    `json:"business_id"`
	Phone      string    `json:"phone"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Request validates the booking without persisting it. A verified payment commits immediately;
// anything else issues a passcode bound to the customer's phone.
func (o *Orchestrator) Request(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := o.tracer.Start(ctx, "publicbooking.request", trace.WithAttributes(
		attribute.String("business.id", req.BusinessID),
	))
	defer span.End()
	defer func() {
		switch {
		case err != nil:
			o.metrics.ObservePublic("request", booking.Result(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.RequiresVerification:
			o.metrics.ObservePublic("request", "verification_required")
		default:
			o.metrics.ObservePublic("request", "committed")
		}
	}()

	phone, err := otp.NormalizePhone(req.Customer.Phone)
	if err != nil {
		return Result{}, apperr.Validation("customer phone is invalid")
	}
	in := booking.CreateInput{
		BusinessID:     req.BusinessID,
		Customer:       &booking.CustomerInput{Name: strings.TrimSpace(req.Customer.Name), Phone: phone, Email: strings.TrimSpace(req.Customer.Email)},
		ServiceID:      req.ServiceID,
		ServiceName:    req.ServiceName,
		Duration:       req.Duration,
		StaffID:        req.StaffID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		Notes:          req.Notes,
		Source:         model.SourcePublic,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Payment != nil && o.payments != nil {
		proof, err := o.payments.Verify(ctx, req.Payment.OrderRef, req.Payment.PaymentRef, req.Payment.Signature)
		if err != nil {
			return Result{}, apperr.External("payment provider", err)
		}
		switch {
		case !proof.Verified:
			o.logger.Warn("payment proof not verified; falling back to passcode",
				"order_ref", req.Payment.OrderRef, "payment_status", proof.Status)
		case req.Payment.Amount > 0 && math.Abs(req.Payment.Amount-proof.Amount) > 0.005:
			o.logger.Warn("payment amount differs from provider; falling back to passcode",
				"order_ref", req.Payment.OrderRef, "claimed", req.Payment.Amount, "held", proof.Amount)
		default:
			// Create validates the booking itself and replays a repeated idempotency key.
			paid := in
			paid.Payment = &booking.VerifiedPayment{Ref: req.Payment.PaymentRef, Amount: proof.Amount}
			appt, err := o.bookings.Create(ctx, paid, model.PublicActor(phone))
			if err != nil {
				return Result{}, err
			}
			return Result{Appointment: &appt}, nil
		}
	}

	checked, err := o.bookings.Check(ctx, in)
	if err != nil {
		return Result{}, err
	}

	code, err := o.issuer.Issue(phone)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(checked)
	if err != nil {
		return Result{}, err
	}
	if err := o.passcodes.Save(ctx, otp.Record{
		Phone:     phone,
		CodeHash:  code.Hash,
		ExpiresAt: code.ExpiresAt,
		Payload:   payload,
	}); err != nil {
		return Result{}, apperr.External("passcode store", err)
	}

	if err := o.notifier.Submit(ctx, notify.EventOTPRequested, phone, PasscodeRequested{
		BusinessID: checked.BusinessID,
		Phone:      phone,
		Code:       code.Plain,
		ExpiresAt:  code.ExpiresAt,
	}); err != nil {
		if _, derr := o.passcodes.TakeIfMatch(ctx, phone, code.Hash); derr != nil && !errors.Is(derr, otp.ErrNotFound) {
			o.logger.Error("passcode cleanup failed", "err", derr)
		}
		return Result{}, apperr.External("passcode dispatch", err)
	}

	expires := code.ExpiresAt
	return Result{RequiresVerification: true, Phone: phone, ExpiresAt: &expires}, nil
}

// Verify redeems a passcode and commits the stored booking. Availability is checked again
// because time has passed since the request.
func (o *Orchestrator) Verify(ctx context.Context, rawPhone, code string) (appt model.Appointment, err error) {
	ctx, span := o.tracer.Start(ctx, "publicbooking.verify")
	defer span.End()
	defer func() {
		if err != nil {
			o.metrics.ObservePublic("verify", booking.Result(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		o.metrics.ObservePublic("verify", "committed")
	}()

	phone, err := otp.NormalizePhone(rawPhone)
	if err != nil {
		return model.Appointment{}, apperr.Validation("phone is invalid")
	}

	rec, err := o.passcodes.Get(ctx, phone)
	if err != nil {
		return model.Appointment{}, passcodeErr(err)
	}
	if !o.verifier.Verify(code, rec.CodeHash, rec.ExpiresAt) {
		attempts, ierr := o.passcodes.IncrementAttempts(ctx, phone, rec.CodeHash)
		switch {
		case errors.Is(ierr, otp.ErrNotFound):
			return model.Appointment{}, passcodeErr(ierr)
		case ierr != nil:
			o.logger.Warn("passcode attempt not recorded", "err", ierr)
		case attempts >= o.maxAttempts:
			if _, derr := o.passcodes.TakeIfMatch(ctx, phone, rec.CodeHash); derr != nil && !errors.Is(derr, otp.ErrNotFound) {
				o.logger.Error("passcode cleanup failed", "err", derr)
			}
			return model.Appointment{}, apperr.Validation("too many attempts; request a new passcode")
		}
		return model.Appointment{}, apperr.Validation("passcode is invalid or expired")
	}

	// Only the record whose code was just checked may be redeemed; if a new request replaced
	// it meanwhile, the newer passcode stays pending.
	rec, err = o.passcodes.TakeIfMatch(ctx, phone, rec.CodeHash)
	if err != nil {
		return model.Appointment{}, passcodeErr(err)
	}
	var in booking.CreateInput
	if err := json.Unmarshal(rec.Payload, &in); err != nil {
		return model.Appointment{}, apperr.Validation("stored booking is unreadable; request a new passcode")
	}
	in.Source = model.SourcePublic

	appt, err = o.bookings.Create(ctx, in, model.PublicActor(phone))
	if err != nil {
		if apperr.Kind(err) == nil || apperr.Kind(err) == apperr.ErrExternal {
			o.restore(ctx, rec)
		}
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID))
	o.logger.Info("public booking committed", "appointment_id", appt.ID, "business_id", appt.BusinessID)
	return appt, nil
}

// restore puts a redeemed passcode back after a transient failure so the customer can retry.
// A newer record saved in the meantime wins.
func (o *Orchestrator) restore(ctx context.Context, rec otp.Record) {
	restored, err := o.passcodes.Restore(ctx, rec)
	if err != nil {
		o.logger.Error("passcode restore failed", "err", err, "phone", rec.Phone)
		return
	}
	if !restored {
		o.logger.Info("passcode not restored", "phone", rec.Phone)
	}
}

func passcodeErr(err error) error {
	if errors.Is(err, otp.ErrNotFound) {
		return &apperr.Error{Kind: apperr.ErrNotFound, Err: err}
	}
	return apperr.External("passcode store", err)
}
