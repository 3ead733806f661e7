package booking

import (
	"fmt"
	"time"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
	"github.com/algotwist369/bookby247/services/booking-service/internal/pricing"
)

// The functions in this file are the lifecycle rules. Each takes an appointment value and
// returns the next value, leaving the input untouched.

func touch(a *model.Appointment, actor model.Actor, now time.Time) {
	a.UpdatedBy = actor.ID
	a.UpdatedAt = now
}

func Confirm(a model.Appointment, actor model.Actor, now time.Time) (model.Appointment, error) {
	if a.Status != model.StatusPending {
		return a, apperr.State(string(a.Status), "confirm")
	}
	out := a.Clone()
	out.Status = model.StatusConfirmed
	touch(&out, actor, now)
	return out, nil
}

func Start(a model.Appointment, actor model.Actor, now time.Time) (model.Appointment, error) {
	if a.Status != model.StatusPending && a.Status != model.StatusConfirmed {
		return a, apperr.State(string(a.Status), "start")
	}
	out := a.Clone()
	out.Status = model.StatusInProgress
	checkIn := now
	out.CheckInAt = &checkIn
	touch(&out, actor, now)
	return out, nil
}

// Complete reports first=true only on the call that moves the appointment into completed.
func Complete(a model.Appointment, actor model.Actor, now time.Time) (out model.Appointment, first bool, err error) {
	switch a.Status {
	case model.StatusCompleted:
		return a, false, nil
	case model.StatusCancelled, model.StatusNoShow:
		return a, false, apperr.State(string(a.Status), "complete")
	}
	out = a.Clone()
	out.Status = model.StatusCompleted
	done := now
	out.CompletedAt = &done
	touch(&out, actor, now)
	return out, true, nil
}

type CancelInput struct {
	Reason        string
	Fee           float64
	RefundPercent float64
}

func Cancel(a model.Appointment, in CancelInput, actor model.Actor, now time.Time) (model.Appointment, error) {
	if a.Status.Terminal() {
		return a, apperr.State(string(a.Status), "cancel")
	}
	if in.Fee < 0 {
		return a, apperr.Validation("cancellation fee cannot be negative")
	}
	refund := 0.0
	if in.RefundPercent > 0 {
		pct := in.RefundPercent
		if pct > 100 {
			pct = 100
		}
		refund = pricing.Round2(a.PaidAmount * pct / 100)
	}
	out := a.Clone()
	out.Status = model.StatusCancelled
	out.Cancellation = &model.Cancellation{
		Reason:       in.Reason,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Fee:          pricing.Round2(in.Fee),
		RefundAmount: refund,
		CancelledAt:  now,
	}
	touch(&out, actor, now)
	return out, nil
}

func MarkNoShow(a model.Appointment, actor model.Actor, now time.Time) (model.Appointment, error) {
	if a.Status != model.StatusPending && a.Status != model.StatusConfirmed {
		return a, apperr.State(string(a.Status), "mark no-show")
	}
	out := a.Clone()
	out.Status = model.StatusNoShow
	touch(&out, actor, now)
	return out, nil
}

type Schedule struct {
	Date      string
	StartTime string
	EndTime   string
	Duration  int
}

// Reschedule moves the appointment and records the old slot. Status is unchanged.
func Reschedule(a model.Appointment, to Schedule, reason string, actor model.Actor, now time.Time) (model.Appointment, error) {
	if a.Status.Terminal() {
		return a, apperr.State(string(a.Status), "reschedule")
	}
	out := a.Clone()
	out.RescheduleHistory = append(out.RescheduleHistory, model.RescheduleEntry{
		Date:          a.Date,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Reason:        reason,
		ActorID:       actor.ID,
		RescheduledAt: now,
	})
	out.Date = to.Date
	out.StartTime = to.StartTime
	out.EndTime = to.EndTime
	out.Duration = to.Duration
	touch(&out, actor, now)
	return out, nil
}

func AddReview(a model.Appointment, rating int, text string, actor model.Actor, now time.Time) (model.Appointment, error) {
	if a.Status != model.StatusCompleted {
		return a, apperr.State(string(a.Status), "review")
	}
	if a.Review != nil {
		return a, &apperr.Error{Kind: apperr.ErrState, Message: "appointment already reviewed"}
	}
	if rating < 1 || rating > 5 {
		return a, apperr.Validation(fmt.Sprintf("rating must be between 1 and 5 (got %d)", rating))
	}
	out := a.Clone()
	out.Review = &model.Review{Rating: rating, Text: text, CreatedAt: now}
	touch(&out, actor, now)
	return out, nil
}
