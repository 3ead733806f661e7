package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/booking"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
	"github.com/algotwist369/bookby247/services/booking-service/internal/storage"
)

type AppointmentHandler struct {
	bookings *booking.Service
	logger   *slog.Logger
}

type createAppointmentRequest struct {
	BusinessID    string                 `json:"business_id"`
	CustomerID    string                 `json:"customer_id"`
	Customer      *booking.CustomerInput `json:"customer"`
	ServiceID     string                 `json:"service_id"`
	ServiceName   string                 `json:"service_name"`
	StaffID       string                 `json:"staff_id"`
	Date          string                 `json:"date"`
	StartTime     string                 `json:"start_time"`
	EndTime       string                 `json:"end_time"`
	Duration      int                    `json:"duration"`
	Notes         string                 `json:"notes"`
	PaymentMethod string                 `json:"payment_method"`
	AdvanceAmount float64                `json:"advance_amount"`
	Discount      float64                `json:"discount"`
	Status        string                 `json:"status"`
}

type cancelRequest struct {
	Reason string  `json:"reason"`
	Fee    float64 `json:"fee"`
}

type completeRequest struct {
	LoyaltyPoints int `json:"loyalty_points"`
}

type rescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

type reviewRequest struct {
	Rating int    `json:"rating"`
	Text   string `json:"text"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	actor := actorFrom(r.Context())
	if req.BusinessID == "" {
		req.BusinessID = actor.BusinessID
	}
	appt, err := h.bookings.Create(r.Context(), booking.CreateInput{
		BusinessID:     req.BusinessID,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		Customer:       req.Customer,
		ServiceID:      req.ServiceID,
		ServiceName:    req.ServiceName,
		StaffID:        req.StaffID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Duration:       req.Duration,
		Notes:          req.Notes,
		Source:         model.SourceInternal,
		PaymentMethod:  req.PaymentMethod,
		AdvanceAmount:  req.AdvanceAmount,
		Discount:       req.Discount,
		InitialStatus:  model.Status(strings.TrimSpace(req.Status)),
		IdempotencyKey: idempotencyKey(r),
	}, actor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.Filter{
		BusinessID: strings.TrimSpace(q.Get("business_id")),
		Date:       strings.TrimSpace(q.Get("date")),
		StaffID:    strings.TrimSpace(q.Get("staff_id")),
		Status:     model.Status(strings.TrimSpace(q.Get("status"))),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, h.logger, apperr.Validation("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	appts, err := h.bookings.List(r.Context(), f, actorFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	query, err := slotQuery(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if query.BusinessID == "" {
		query.BusinessID = actor.BusinessID
	}
	if !actor.CanAccess(query.BusinessID) {
		writeError(w, h.logger, apperr.Forbidden("actor cannot access this business"))
		return
	}
	writeSlots(w, h.logger, h.bookings, r, query)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Get(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Confirm(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Start(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.MarkNoShow(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	appt, err := h.bookings.Complete(r.Context(), chi.URLParam(r, "id"), req.LoyaltyPoints, actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.bookings.Cancel(r.Context(), chi.URLParam(r, "id"),
		booking.CancelRequest{Reason: strings.TrimSpace(req.Reason), Fee: req.Fee}, actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.bookings.Reschedule(r.Context(), chi.URLParam(r, "id"), booking.RescheduleRequest{
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Reason:    req.Reason,
	}, actorFrom(r.Context()))
	h.respond(w, appt, err)
}

func (h *AppointmentHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	_, err := h.bookings.AddReview(r.Context(), chi.URLParam(r, "id"), req.Rating, req.Text, actorFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AppointmentHandler) respond(w http.ResponseWriter, appt model.Appointment, err error) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}
