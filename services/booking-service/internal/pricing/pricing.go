package pricing

import (
	"math"

	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

const DefaultDuration = 60

type Quote struct {
	Price    float64
	Duration int
}

// Resolve picks the effective price and duration for a service.
//
// With active tiers, an exact duration match wins; otherwise the first active tier in
// declaration order is used. Without tiers the service's own fields apply. duration <= 0
// means no preference.
func Resolve(svc model.Service, duration int) Quote {
	var first *model.PricingTier
	for i := range svc.Tiers {
		tier := &svc.Tiers[i]
		if !tier.Active {
			continue
		}
		if first == nil {
			first = tier
		}
		if duration > 0 && tier.Duration == duration {
			return quoteOf(tier.Price, tier.Duration)
		}
	}
	if first != nil {
		return quoteOf(first.Price, first.Duration)
	}
	return quoteOf(svc.Price, svc.Duration)
}

func quoteOf(price float64, duration int) Quote {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		price = 0
	}
	return Quote{Price: Round2(price), Duration: duration}
}

// Totals holds the money fields of an appointment.
type Totals struct {
	ServicePrice float64
	Tax          float64
	Discount     float64
	Total        float64
}

// Compute derives tax and total. The discount is clamped so the total never goes negative.
func Compute(price, taxRatePercent, discount float64) Totals {
	tax := 0.0
	if taxRatePercent > 0 {
		tax = Round2(price * taxRatePercent / 100)
	}
	gross := Round2(price + tax)
	if discount < 0 {
		discount = 0
	}
	if discount > gross {
		discount = gross
	}
	discount = Round2(discount)
	return Totals{
		ServicePrice: Round2(price),
		Tax:          tax,
		Discount:     discount,
		Total:        Round2(gross - discount),
	}
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
