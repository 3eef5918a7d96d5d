package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncAuthzDecision("admit", "replayed")
	m.IncAuthzDecision("admit", "replayed")
	m.IncFinding("PII:ssn", "HIGH")
	m.IncGuardOutcome("masked")
	m.ObserveBackend("ok", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthzDecisions.WithLabelValues("admit", "replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Findings.WithLabelValues("PII:ssn", "HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardOutcomes.WithLabelValues("masked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("ok")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncAuthzDecision("authorize", "ok")
		m.IncFinding("x", "LOW")
		m.ObserveScan("document", time.Millisecond)
		m.IncGuardOutcome("clean")
		m.IncAttachmentWarning("unsupported_type")
		m.ObserveBackend("timeout", time.Second)
		m.ObserveHTTP("/api/chat", "200", time.Millisecond)
	})
}
