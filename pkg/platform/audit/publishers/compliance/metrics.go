package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit trail. Methods are safe on
// a nil receiver.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_events_emitted_total",
			Help: "Audit events durably persisted, by category",
		}, []string{"category"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_persist_failures_total",
			Help: "Audit events that failed to persist",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_audit_persist_duration_seconds",
			Help:    "Latency of synchronous audit writes",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncEventsEmitted(category string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(category).Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}
