package notify

import (
	"context"
	"log/slog"
	"time"

	"gatepass/internal/platform/metrics"
)

// Sink delivers one lifecycle event to an external channel.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Worker consumes lifecycle events from a bounded inbox and fans them out to
// sinks. Delivery is best-effort: a full inbox drops the event and a failing
// sink is logged, never surfaced to the operation that emitted the event.
type Worker struct {
	inbox   chan Event
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics enables drop/error counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTimeout bounds each sink delivery.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) { w.timeout = d }
}

// NewWorker constructs a worker with the given inbox capacity and sinks.
func NewWorker(buffer int, sinks []Sink, opts ...Option) *Worker {
	if buffer <= 0 {
		buffer = 256
	}
	w := &Worker{
		inbox:   make(chan Event, buffer),
		sinks:   sinks,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue offers an event to the inbox without blocking. A full inbox drops
// the event; lifecycle operations never wait on notification capacity.
func (w *Worker) Enqueue(event Event) bool {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case w.inbox <- event:
		return true
	default:
		w.logger.Warn("notification inbox full, dropping event",
			"kind", event.Kind,
			"visit_id", event.VisitID,
		)
		if w.metrics != nil {
			w.metrics.NotifyDrops.Inc()
		}
		return false
	}
}

// Run delivers events until the context is cancelled, then drains the inbox.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.dispatch(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	for {
		select {
		case event := <-w.inbox:
			w.dispatch(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, event Event) {
	for _, sink := range w.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err := sink.Deliver(deliverCtx, event)
		cancel()
		if err != nil {
			w.logger.Error("notification delivery failed",
				"kind", event.Kind,
				"visit_id", event.VisitID,
				"error", err,
			)
			if w.metrics != nil {
				w.metrics.NotifyErrors.Inc()
			}
		}
	}
}
