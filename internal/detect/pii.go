package detect

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"warden/internal/extract"
)

type piiPattern struct {
	name       string
	re         *regexp.Regexp
	severity   Severity
	confidence float64
	valid      func(string) bool
}

// piiPatterns are listed in suppression priority: a later pattern never
// reports a span that overlaps an earlier pattern's accepted match.
var piiPatterns = []piiPattern{
	{name: "ssn", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), severity: SeverityHigh, confidence: 0.95},
	{name: "credit_card", re: regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`), severity: SeverityHigh, confidence: 0.95, valid: luhnValid},
	{name: "ssn_no_dash", re: regexp.MustCompile(`\b\d{9}\b`), severity: SeverityMedium, confidence: 0.6},
	{name: "phone_us", re: regexp.MustCompile(`\b(?:\+1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), severity: SeverityMedium, confidence: 0.9},
	{name: "email", re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), severity: SeverityMedium, confidence: 0.95},
}

type piiHit struct {
	span
	pattern *piiPattern
}

// matchPII returns accepted matches ordered by position.
func matchPII(text string) []piiHit {
	var hits []piiHit
	var taken []span
	for i := range piiPatterns {
		p := &piiPatterns[i]
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			s := span{start: loc[0], end: loc[1]}
			if overlapsAny(s, taken) {
				continue
			}
			if p.valid != nil && !p.valid(text[s.start:s.end]) {
				continue
			}
			taken = append(taken, s)
			hits = append(hits, piiHit{span: s, pattern: p})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

func scanPII(location, text string, depth int) []Finding {
	hits := matchPII(text)
	out := make([]Finding, 0, len(hits))
	for _, h := range hits {
		out = append(out, newFinding(PIIKind(h.pattern.name), h.pattern.severity, location,
			h.start, h.end, text[h.start:h.end], h.pattern.confidence, depth))
	}
	sortByPosition(out)
	return out
}

// luhnValid checks the card number checksum over the digits of s.
func luhnValid(s string) bool {
	var sum, n int
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}

// PIIDetector reports personal data in every segment. For JSON sources it
// walks the structured tree instead of the compacted visible text. Hitting
// the structured depth limit does not stop the remaining segments.
type PIIDetector struct{}

func (PIIDetector) Name() string { return "pii" }

func (PIIDetector) Scan(ctx context.Context, scope *Scope) ([]Finding, error) {
	doc := scope.Doc
	var out []Finding
	var limitErr error
	for _, seg := range doc.Segments() {
		if seg.Location == extract.LocVisible && doc.Structured != nil {
			found, err := scanStructured(ctx, doc.Structured, scope.Policy.MaxStructuredDepth, scope.Depth)
			out = append(out, found...)
			var limit *LimitError
			switch {
			case errors.As(err, &limit):
				limitErr = err
			case err != nil:
				return out, err
			}
			continue
		}
		out = append(out, scanPII(seg.Location, seg.Text, scope.Depth)...)
	}
	return out, limitErr
}

func scanStructured(ctx context.Context, tree any, maxDepth, depth int) ([]Finding, error) {
	var out []Finding
	err := walkStructured(ctx, tree, maxDepth, func(location, text string) {
		out = append(out, scanPII(location, text, depth)...)
	})
	return out, err
}
