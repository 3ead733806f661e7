// Package notify hands booking events to delivery channels without blocking the caller.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	otelx "github.com/algotwist369/bookby247/libs/otel"
)

const (
	EventAppointmentCreated     = "booking.appointment.created.v1"
	EventAppointmentConfirmed   = "booking.appointment.confirmed.v1"
	EventAppointmentStarted     = "booking.appointment.started.v1"
	EventAppointmentCompleted   = "booking.appointment.completed.v1"
	EventAppointmentCancelled   = "booking.appointment.cancelled.v1"
	EventAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	EventAppointmentNoShow      = "booking.appointment.no_show.v1"
	EventOTPRequested           = "booking.otp.requested.v1"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

type Event struct {
	ID          string
	Type        string
	Key         string
	Payload     []byte
	OccurredAt  time.Time
	Traceparent string
	Tracestate  string
}

// Sink delivers a single event to a channel.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
}

// Dispatcher is a bounded queue drained by a fixed worker pool.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	cfg     Config
	queue   chan Event
	results *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, logger *slog.Logger, cfg Config, reg prometheus.Registerer) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookby_notify_dispatch_total",
			Help: "Notification events by dispatch result.",
		}, []string{"result"}),
	}
	if reg != nil {
		if err := reg.Register(d.results); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				d.results = already.ExistingCollector.(*prometheus.CounterVec)
			}
		}
	}
	return d
}

// Submit enqueues an event and returns immediately. The trace context of ctx travels with it.
func (d *Dispatcher) Submit(ctx context.Context, eventType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	ev := Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Key:         key,
		Payload:     body,
		OccurredAt:  time.Now().UTC(),
		Traceparent: traceparent,
		Tracestate:  tracestate,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		d.results.WithLabelValues("queued").Inc()
		return nil
	default:
		d.results.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Start launches the workers. They exit once Close has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	// Delivery outlives the request that produced the event.
	base := otelx.ContextWithTraceContext(context.WithoutCancel(ctx), ev.Traceparent, ev.Tracestate)
	deliverCtx, cancel := context.WithTimeout(base, d.cfg.Timeout)
	defer cancel()

	if err := d.sink.Deliver(deliverCtx, ev); err != nil {
		d.results.WithLabelValues("failed").Inc()
		d.logger.Error("notification delivery failed", "err", err, "event_type", ev.Type, "event_id", ev.ID, "key", ev.Key)
		return
	}
	d.results.WithLabelValues("delivered").Inc()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
