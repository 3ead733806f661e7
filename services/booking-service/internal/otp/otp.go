// Package otp issues and checks the short-lived passcodes that gate public bookings.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTTL   = 5 * time.Minute
	codeDigits   = 6
	codeModulus  = 1_000_000
	minPhoneSize = 7
)

var ErrInvalidPhone = errors.New("invalid phone number")

// Code is a freshly issued passcode. Plain is only ever handed to the delivery channel.
type Code struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

type Issuer struct {
	ttl  time.Duration
	cost int
	now  func() time.Time
}

func NewIssuer(ttl time.Duration, cost int) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Issuer{ttl: ttl, cost: cost, now: time.Now}
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue generates a random numeric passcode for phone and returns its bcrypt hash and expiry.
func (i *Issuer) Issue(phone string) (Code, error) {
	if phone == "" {
		return Code{}, ErrInvalidPhone
	}
	n, err := rand.Int(rand.Reader, big.NewInt(codeModulus))
	if err != nil {
		return Code{}, fmt.Errorf("generate passcode: %w", err)
	}
	plain := fmt.Sprintf("%0*d", codeDigits, n.Int64())
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), i.cost)
	if err != nil {
		return Code{}, fmt.Errorf("hash passcode: %w", err)
	}
	return Code{Plain: plain, Hash: string(hash), ExpiresAt: i.now().Add(i.ttl)}, nil
}

type Verifier struct {
	now func() time.Time
}

func NewVerifier(now func() time.Time) Verifier {
	if now == nil {
		now = time.Now
	}
	return Verifier{now: now}
}

// Verify reports whether code matches hash and has not expired.
func (v Verifier) Verify(code, hash string, expiresAt time.Time) bool {
	if !v.now().Before(expiresAt) {
		return false
	}
	code = strings.TrimSpace(code)
	if len(code) != codeDigits {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if len(strings.TrimPrefix(phone, "+")) < minPhoneSize {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
