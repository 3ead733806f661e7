package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/algotwist369/bookby247/libs/httpx"
	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/booking"
	"github.com/algotwist369/bookby247/services/booking-service/internal/publicbooking"
)

type Config struct {
	JWTSecret string
	// PublicLimit guards the unauthenticated routes. Nil disables rate limiting.
	PublicLimit httpx.Middleware
	Logger      *slog.Logger
}

// NewRouter mounts the public booking flow and the authenticated appointment API.
func NewRouter(bookings *booking.Service, public *publicbooking.Orchestrator, cfg Config) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ah := &AppointmentHandler{bookings: bookings, logger: logger}
	ph := &PublicHandler{bookings: bookings, public: public, logger: logger}

	r := chi.NewRouter()
	r.Route("/api/v1/public", func(r chi.Router) {
		if cfg.PublicLimit != nil {
			r.Use(cfg.PublicLimit)
		}
		r.Get("/slots", ph.Slots)
		r.Post("/bookings", ph.Request)
		r.Post("/bookings/verify", ph.Verify)
	})
	r.Route("/api/v1/appointments", func(r chi.Router) {
		r.Use(RequireActor(cfg.JWTSecret))
		r.Post("/", ah.Create)
		r.Get("/", ah.List)
		r.Get("/slots", ah.Slots)
		r.Get("/{id}", ah.Get)
		r.Post("/{id}/confirm", ah.Confirm)
		r.Post("/{id}/start", ah.Start)
		r.Post("/{id}/complete", ah.Complete)
		r.Post("/{id}/no-show", ah.NoShow)
		r.Post("/{id}/cancel", ah.Cancel)
		r.Post("/{id}/reschedule", ah.Reschedule)
		r.Post("/{id}/review", ah.Review)
	})
	return r
}

type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return http.StatusUnprocessableEntity
	case apperr.ErrConflict, apperr.ErrState:
		return http.StatusConflict
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrAuthorization:
		return http.StatusForbidden
	case apperr.ErrExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg := appErr.Kind.Error()
		if appErr.Message != "" {
			msg += ": " + appErr.Message
		} else if appErr.Err != nil && status != http.StatusBadGateway {
			msg += ": " + appErr.Err.Error()
		}
		writeJSON(w, status, errorResponse{Error: msg, Violations: appErr.Violations})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// idempotencyKey reads the Idempotency-Key header; a repeated key returns the first booking.
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid json body")
	}
	return nil
}
