package booking

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
)

// Metrics exposes counters for booking operations. A nil *Metrics is a no-op.
type Metrics struct {
	transitions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	public      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookby",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking operations by outcome",
		}, []string{"op", "result"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookby",
			Subsystem: "booking",
			Name:      "conflicts_total",
			Help:      "Slot conflicts detected at write time",
		}, []string{"op"}),
		public: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookby",
			Name:      "public_booking_total",
			Help:      "Public booking protocol steps by outcome",
		}, []string{"phase", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.conflicts, m.public)
	return m
}

func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, Result(err)).Inc()
	if apperr.Kind(err) == apperr.ErrConflict {
		m.conflicts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ObservePublic(phase, result string) {
	if m == nil {
		return
	}
	m.public.WithLabelValues(phase, result).Inc()
}

// Result is the metric label for an operation outcome.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return "validation"
	case apperr.ErrConflict:
		return "conflict"
	case apperr.ErrState:
		return "state"
	case apperr.ErrNotFound:
		return "not_found"
	case apperr.ErrAuthorization:
		return "forbidden"
	case apperr.ErrExternal:
		return "external"
	default:
		return "error"
	}
}
