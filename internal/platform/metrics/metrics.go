package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the call bus, the
// detection engine, the response guard and the model client. All methods
// are safe on a nil receiver.
type Metrics struct {
	AuthzDecisions     *prometheus.CounterVec
	Findings           *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
	GuardOutcomes      *prometheus.CounterVec
	AttachmentWarnings *prometheus.CounterVec
	BackendRequests    *prometheus.CounterVec
	BackendLatency     prometheus.Histogram
	HTTPLatency        *prometheus.HistogramVec
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthzDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_authz_decisions_total",
			Help: "Call bus decisions by operation and outcome",
		}, []string{"operation", "outcome"}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_detection_findings_total",
			Help: "Threat findings by kind and severity",
		}, []string{"kind", "severity"}),
		ScanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_detection_scan_duration_seconds",
			Help:    "Duration of a full detector pass",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}, []string{"target"}),
		GuardOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_response_guard_outcomes_total",
			Help: "Response guard outcomes (clean, masked, blocked)",
		}, []string{"outcome"}),
		AttachmentWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_attachment_warnings_total",
			Help: "Attachments degraded to warnings by reason",
		}, []string{"reason"}),
		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_model_backend_requests_total",
			Help: "Model backend calls by outcome",
		}, []string{"outcome"}),
		BackendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_model_backend_latency_seconds",
			Help:    "Model backend call latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) IncAuthzDecision(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthzDecisions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncFinding(kind, severity string) {
	if m == nil {
		return
	}
	m.Findings.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) ObserveScan(target string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScanDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (m *Metrics) IncGuardOutcome(outcome string) {
	if m == nil {
		return
	}
	m.GuardOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAttachmentWarning(reason string) {
	if m == nil {
		return
	}
	m.AttachmentWarnings.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveBackend(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(outcome).Inc()
	m.BackendLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPLatency.WithLabelValues(route, status).Observe(d.Seconds())
}
