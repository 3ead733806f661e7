package model

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// ActiveStatuses are the statuses that occupy a slot.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

type BookingSource string

const (
	SourceInternal BookingSource = "internal"
	SourcePublic   BookingSource = "public"
)

type Cancellation struct {
	Reason       string    `json:"reason"`
	ActorID      string    `json:"actor_id"`
	ActorRole    Role      `json:"actor_role"`
	Fee          float64   `json:"fee"`
	RefundAmount float64   `json:"refund_amount"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

type RescheduleEntry struct {
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Reason        string    `json:"reason"`
	ActorID       string    `json:"actor_id"`
	RescheduledAt time.Time `json:"rescheduled_at"`
}

type Review struct {
	Rating    int       `json:"rating"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Appointment is treated as a value: transitions return a modified copy.
type Appointment struct {
	ID               string `json:"id"`
	ConfirmationCode string `json:"confirmation_code"`
	BusinessID       string `json:"business_id"`
	CustomerID       string `json:"customer_id"`
	ServiceID        string `json:"service_id"`
	StaffID          string `json:"staff_id,omitempty"`

	Date      string `json:"date"`       // YYYY-MM-DD in the business timezone
	StartTime string `json:"start_time"` // HH:MM
	EndTime   string `json:"end_time"`   // HH:MM
	Duration  int    `json:"duration"`   // minutes

	ServicePrice  float64       `json:"service_price"`
	Tax           float64       `json:"tax"`
	Discount      float64       `json:"discount"`
	TotalAmount   float64       `json:"total_amount"`
	PaidAmount    float64       `json:"paid_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	PaymentRef    string        `json:"payment_ref,omitempty"` // provider reference, redeemable once
	BookingSource BookingSource `json:"booking_source"`
	Notes         string        `json:"notes,omitempty"`

	Status            Status            `json:"status"`
	CheckInAt         *time.Time        `json:"check_in_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	Cancellation      *Cancellation     `json:"cancellation,omitempty"`
	RescheduleHistory []RescheduleEntry `json:"reschedule_history,omitempty"`
	Review            *Review           `json:"review,omitempty"`

	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopeKey identifies the conflict scope: a staff member, or business-level capacity when no staff is set.
func (a Appointment) ScopeKey() string {
	return ScopeKey(a.BusinessID, a.StaffID)
}

func ScopeKey(businessID, staffID string) string {
	if staffID == "" {
		return businessID + ":business"
	}
	return businessID + ":staff:" + staffID
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a Appointment) Clone() Appointment {
	out := a
	if a.CheckInAt != nil {
		t := *a.CheckInAt
		out.CheckInAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	if a.Cancellation != nil {
		c := *a.Cancellation
		out.Cancellation = &c
	}
	if a.Review != nil {
		r := *a.Review
		out.Review = &r
	}
	if a.RescheduleHistory != nil {
		out.RescheduleHistory = append([]RescheduleEntry(nil), a.RescheduleHistory...)
	}
	return out
}

// DerivePaymentStatus maps the paid amount against the total.
func DerivePaymentStatus(paid, total float64) PaymentStatus {
	switch {
	case paid > 0 && paid >= total:
		return PaymentPaid
	case paid > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}
