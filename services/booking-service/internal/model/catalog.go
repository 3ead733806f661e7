package model

import "time"

type DayHours struct {
	Open  string `json:"open"`  // HH:MM
	Close string `json:"close"` // HH:MM
}

type CancellationPolicy struct {
	Allowed        bool    `json:"allowed"`
	MinNoticeHours int     `json:"min_notice_hours"`
	RefundPercent  float64 `json:"refund_percent"`
}

// BusinessPolicy is read-only configuration owned by the business.
type BusinessPolicy struct {
	ID                   string
	Timezone             string
	WeeklyHours          map[time.Weekday]DayHours
	OpenDays             []time.Weekday
	SlotMinutes          int
	BufferMinutes        int
	MinAdvanceHours      int
	MaxAdvanceHours      int
	OnlineBookingEnabled bool
	TaxRatePercent       float64
	Cancellation         CancellationPolicy
}

var DefaultHours = DayHours{Open: "09:00", Close: "18:00"}

// HoursFor returns the opening hours for a weekday. WeeklyHours wins over OpenDays.
func (p BusinessPolicy) HoursFor(day time.Weekday) (DayHours, bool) {
	if len(p.WeeklyHours) > 0 {
		h, ok := p.WeeklyHours[day]
		if !ok || h.Open == "" || h.Close == "" {
			return DayHours{}, false
		}
		return h, true
	}
	for _, d := range p.OpenDays {
		if d == day {
			return DefaultHours, true
		}
	}
	return DayHours{}, false
}

func (p BusinessPolicy) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type PricingTier struct {
	Label    string  `json:"label,omitempty"`
	Price    float64 `json:"price"`
	Duration int     `json:"duration"`
	Active   bool    `json:"active"`
}

type Service struct {
	ID         string
	BusinessID string
	Name       string
	Price      float64
	Duration   int
	Tiers      []PricingTier
	Active     bool
}

type Staff struct {
	ID         string
	BusinessID string
	Name       string
	Active     bool
}

type Customer struct {
	ID          string
	BusinessID  string
	Name        string
	Phone       string
	Email       string
	VisitCount  int
	TotalSpent  float64
	LastVisitAt *time.Time
}

// LedgerEntry is the financial record written once per completed appointment.
type LedgerEntry struct {
	ID            string
	AppointmentID string
	BusinessID    string
	CustomerID    string
	Amount        float64
	PaidAmount    float64
	Method        string
	CreatedAt     time.Time
}

type LoyaltyGrant struct {
	ID            string
	AppointmentID string
	BusinessID    string
	CustomerID    string
	Points        int
	CreatedAt     time.Time
}
