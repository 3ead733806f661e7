// Package apperr is the error taxonomy shared by the booking engine and its transports.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("slot unavailable")
	ErrState         = errors.New("illegal state transition")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("forbidden")
	ErrExternal      = errors.New("external dependency failed")
)

// Error carries a kind (one of the sentinels above) plus caller-facing detail.
type Error struct {
	Kind       error
	Message    string
	Violations []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Violations) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Violations, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Validation(violations ...string) *Error {
	return &Error{Kind: ErrValidation, Violations: violations}
}

func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func State(from, op string) *Error {
	return &Error{Kind: ErrState, Message: fmt.Sprintf("cannot %s appointment in status %s", op, from)}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %q", what, id)}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: ErrAuthorization, Message: msg}
}

func External(dep string, err error) *Error {
	return &Error{Kind: ErrExternal, Message: dep, Err: err}
}

// Kind returns the taxonomy sentinel for err, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrConflict, ErrState, ErrNotFound, ErrAuthorization, ErrExternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Violations returns the accumulated validation messages carried by err, if any.
func Violations(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}
