package detect

import (
	"encoding/json"
	"time"
)

// Report is the immutable result of one engine pass. Getters return copies.
type Report struct {
	findings      []Finding
	blocking      bool
	threshold     Severity
	correlationID string
	createdAt     time.Time
}

// NewReport copies findings and computes Blocking against threshold.
func NewReport(findings []Finding, threshold Severity, correlationID string, createdAt time.Time) *Report {
	r := &Report{
		findings:      append([]Finding(nil), findings...),
		threshold:     threshold,
		correlationID: correlationID,
		createdAt:     createdAt,
	}
	for _, f := range r.findings {
		if f.Severity >= threshold {
			r.blocking = true
			break
		}
	}
	return r
}

func (r *Report) Findings() []Finding {
	return append([]Finding(nil), r.findings...)
}

func (r *Report) Blocking() bool        { return r.blocking }
func (r *Report) Threshold() Severity   { return r.threshold }
func (r *Report) CorrelationID() string { return r.correlationID }
func (r *Report) CreatedAt() time.Time  { return r.createdAt }
func (r *Report) Len() int              { return len(r.findings) }
func (r *Report) Clean() bool           { return len(r.findings) == 0 }

// Max returns the highest severity in the report, or zero when it is clean.
func (r *Report) Max() Severity {
	var top Severity
	for _, f := range r.findings {
		top = maxSeverity(top, f.Severity)
	}
	return top
}

// Kinds lists distinct finding kinds in first-seen order.
func (r *Report) Kinds() []Kind {
	seen := make(map[Kind]bool)
	var out []Kind
	for _, f := range r.findings {
		if !seen[f.Kind] {
			seen[f.Kind] = true
			out = append(out, f.Kind)
		}
	}
	return out
}

type reportJSON struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Blocking      bool      `json:"blocking"`
	Threshold     Severity  `json:"threshold"`
	Findings      []Finding `json:"findings"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	findings := r.findings
	if findings == nil {
		findings = []Finding{}
	}
	return json.Marshal(reportJSON{
		CorrelationID: r.correlationID,
		Blocking:      r.blocking,
		Threshold:     r.threshold,
		Findings:      findings,
		CreatedAt:     r.createdAt,
	})
}
