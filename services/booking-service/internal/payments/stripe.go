package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

// StripeFetcher resolves payment intents through the Stripe API.
type StripeFetcher struct {
	get func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func NewStripeFetcher(secretKey string) *StripeFetcher {
	stripe.Key = secretKey
	return &StripeFetcher{get: paymentintent.Get}
}

func (f *StripeFetcher) Payment(ctx context.Context, paymentRef string) (Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := f.get(paymentRef, params)
	if err != nil {
		return Payment{Status: StatusUnknown}, fmt.Errorf("fetch payment intent %s: %w", paymentRef, err)
	}
	status := mapIntentStatus(pi.Status)
	p := Payment{Status: status, Currency: string(pi.Currency)}
	switch status {
	case StatusCaptured:
		p.Amount = pi.AmountReceived
	case StatusAuthorized:
		p.Amount = pi.AmountCapturable
	}
	return p, nil
}

func mapIntentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCaptured
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusPending
	default:
		return StatusUnknown
	}
}
