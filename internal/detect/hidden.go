package detect

import (
	"context"
	"fmt"
	"strings"
)

// HiddenDetector reports every non-blank hidden span. Spans carrying
// injection phrasing, raw or behind look-alike letters, are HIGH.
type HiddenDetector struct{}

func (HiddenDetector) Name() string { return "hidden_content" }

func (HiddenDetector) Scan(_ context.Context, scope *Scope) ([]Finding, error) {
	patterns := scope.Policy.injectionPatterns()
	var out []Finding
	for i, h := range scope.Doc.HiddenText {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		sev := SeverityMedium
		note := string(h.Reason)
		if hits := matchInjection(patterns, h.Text); len(hits) > 0 {
			sev = SeverityHigh
			note += "; " + hits[0].name
		} else if hits, _ := foldedOnlyHits(patterns, h.Text); len(hits) > 0 {
			sev = SeverityHigh
			note += "; obfuscated " + hits[0].name
		}
		f := newFinding(KindHiddenContent, sev, fmt.Sprintf("hidden_text[%d]", i), 0, len(h.Text), h.Text, 1.0, scope.Depth)
		f.Note = note
		out = append(out, f)
	}
	return out, nil
}
