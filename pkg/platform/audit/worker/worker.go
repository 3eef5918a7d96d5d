package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "warden/pkg/platform/audit"
)

// Source yields buffered events and takes back batches that failed to
// publish.
type Source interface {
	DequeueBatch(n int) []audit.Event
	Requeue(events []audit.Event)
}

// Metrics counts stream deliveries. Methods are safe on a nil receiver.
type Metrics struct {
	Published      prometheus.Counter
	PublishFailure prometheus.Counter
	Dropped        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_stream_published_total",
			Help: "Audit events delivered to the stream sink",
		}),
		PublishFailure: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_stream_publish_failures_total",
			Help: "Failed stream publish attempts",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_stream_dropped_total",
			Help: "Audit events dropped from the stream buffer",
		}),
	}
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// Worker drains a Source into a Sink on a fixed period.
type Worker struct {
	source    Source
	sink      audit.Sink
	period    time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Worker)

func WithPeriod(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.period = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func NewWorker(source Source, sink audit.Sink, opts ...Option) *Worker {
	w := &Worker{
		source:    source,
		sink:      sink,
		period:    time.Second,
		batchSize: 500,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run flushes until ctx is cancelled, then makes a final drain attempt with
// a short deadline and returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			w.Flush(drainCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush publishes everything currently buffered. A failed batch is
// requeued and flushing stops until the next tick.
func (w *Worker) Flush(ctx context.Context) {
	for {
		batch := w.source.DequeueBatch(w.batchSize)
		if len(batch) == 0 {
			return
		}
		if err := w.sink.Publish(ctx, batch); err != nil {
			w.source.Requeue(batch)
			if w.metrics != nil {
				w.metrics.PublishFailure.Inc()
			}
			if w.logger != nil {
				w.logger.WarnContext(ctx, "audit stream publish failed",
					"batch_size", len(batch),
					"error", err,
				)
			}
			return
		}
		if w.metrics != nil {
			w.metrics.Published.Add(float64(len(batch)))
		}
	}
}
