package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/booking"
	"github.com/algotwist369/bookby247/services/booking-service/internal/publicbooking"
)

type PublicHandler struct {
	bookings *booking.Service
	public   *publicbooking.Orchestrator
	logger   *slog.Logger
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	query, err := slotQuery(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if query.BusinessID == "" {
		writeError(w, h.logger, apperr.Validation("business_id is required"))
		return
	}
	writeSlots(w, h.logger, h.bookings, r, query)
}

func (h *PublicHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req publicbooking.Request
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	req.IdempotencyKey = idempotencyKey(r)
	res, err := h.public.Request(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if res.RequiresVerification {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PublicHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.public.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, publicbooking.Result{Appointment: &appt})
}

func slotQuery(r *http.Request) (booking.SlotQuery, error) {
	q := r.URL.Query()
	out := booking.SlotQuery{
		BusinessID: strings.TrimSpace(q.Get("business_id")),
		Date:       strings.TrimSpace(q.Get("date")),
		StaffID:    strings.TrimSpace(q.Get("staff_id")),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
	}
	if out.Date == "" {
		return out, apperr.Validation("date is required")
	}
	if raw := q.Get("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return out, apperr.Validation("duration must be a positive integer")
		}
		out.Duration = n
	}
	return out, nil
}

func writeSlots(w http.ResponseWriter, logger *slog.Logger, bookings *booking.Service, r *http.Request, q booking.SlotQuery) {
	slots, err := bookings.AvailableSlots(r.Context(), q)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": q.BusinessID,
		"date":        q.Date,
		"slots":       slots,
	})
}
