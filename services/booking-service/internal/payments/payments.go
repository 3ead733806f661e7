// Package payments checks payment proofs submitted with public bookings.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type Status string

const (
	StatusCaptured   Status = "captured"
	StatusAuthorized Status = "authorized"
	StatusPending    Status = "pending"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// Settled reports whether the provider holds the customer's money.
func (s Status) Settled() bool {
	return s == StatusCaptured || s == StatusAuthorized
}

// Payment is the provider's record of a payment. Amount is in minor units.
type Payment struct {
	Status   Status
	Amount   int64
	Currency string
}

// Result is what a proof is worth. Amount is in major units and only set when Verified.
type Result struct {
	Verified bool
	Status   Status
	Amount   float64
	Currency string
}

type Verifier interface {
	Verify(ctx context.Context, orderRef, paymentRef, signature string) (Result, error)
}

// StatusFetcher asks the provider for the authoritative state of a payment.
type StatusFetcher interface {
	Payment(ctx context.Context, paymentRef string) (Payment, error)
}

// SignatureVerifier checks an HMAC-SHA256 signature over "orderRef|paymentRef" and, when it
// matches, asks the provider how much money it holds for the payment.
type SignatureVerifier struct {
	secret   []byte
	currency string
	fetcher  StatusFetcher
}

func NewSignatureVerifier(secret, currency string, fetcher StatusFetcher) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), currency: strings.ToLower(strings.TrimSpace(currency)), fetcher: fetcher}
}

func (v *SignatureVerifier) Verify(ctx context.Context, orderRef, paymentRef, signature string) (Result, error) {
	if len(v.secret) == 0 || orderRef == "" || paymentRef == "" || signature == "" {
		return Result{Status: StatusUnknown}, nil
	}
	expected := Sign(string(v.secret), orderRef, paymentRef)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return Result{Status: StatusUnknown}, nil
	}
	if v.fetcher == nil {
		return Result{Status: StatusUnknown}, nil
	}
	p, err := v.fetcher.Payment(ctx, paymentRef)
	if err != nil {
		return Result{}, err
	}
	res := Result{Status: p.Status, Currency: strings.ToLower(p.Currency)}
	if !p.Status.Settled() || p.Amount <= 0 {
		return res, nil
	}
	if v.currency != "" && res.Currency != v.currency {
		return res, nil
	}
	res.Verified = true
	res.Amount = MajorUnits(p.Amount)
	return res, nil
}

// MajorUnits converts a two-decimal minor amount (paise, cents) to a major amount.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// Sign returns the hex signature a checkout page attaches to a payment proof.
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}
