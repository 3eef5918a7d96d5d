package guard

import (
	"sort"
	"strings"

	"warden/internal/detect"
	"warden/internal/extract"
)

type span struct {
	start, end int
}

// topLevel keeps findings whose offsets index the scanned text itself.
// Findings inside a decoded payload are covered by the ENCODED_CONTENT
// finding for the run that carries them.
func topLevel(f detect.Finding, textLen int) bool {
	return f.Depth == 0 &&
		f.Location == extract.LocVisible &&
		f.Start >= 0 && f.End <= textLen && f.Start < f.End
}

// merge sorts spans and joins overlapping or touching ones.
func merge(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		out = append(out, s)
	}
	return out
}

func redactBlocked(text string, findings []detect.Finding) string {
	var spans []span
	for _, f := range findings {
		if topLevel(f, len(text)) {
			spans = append(spans, span{f.Start, f.End})
		}
	}
	spans = merge(spans)
	if len(spans) == 0 {
		return detect.RedactionToken
	}
	return replaceSpans(text, spans, func(string) string { return detect.RedactionToken })
}

// maskPII masks confident PII values and returns the count masked.
func maskPII(text string, findings []detect.Finding, minConfidence float64) (string, int) {
	var spans []span
	for _, f := range findings {
		if f.Kind.IsPII() && f.Confidence >= minConfidence && topLevel(f, len(text)) {
			spans = append(spans, span{f.Start, f.End})
		}
	}
	if len(spans) == 0 {
		return text, 0
	}
	spans = merge(spans)
	return replaceSpans(text, spans, detect.Mask), len(spans)
}

func replaceSpans(text string, spans []span, with func(string) string) string {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.start])
		b.WriteString(with(text[s.start:s.end]))
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String()
}
