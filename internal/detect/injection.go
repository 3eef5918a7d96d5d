package detect

import (
	"context"
	"regexp"
	"sort"
)

type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

var builtinInjection = []injectionPattern{
	{"instruction_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+instructions?`)},
	{"instruction_override", regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`)},
	{"instruction_injection", regexp.MustCompile(`(?i)new\s+instructions?\s*:`)},
	{"role_reassignment", regexp.MustCompile(`(?i)system\s*:\s*you\s+are`)},
	{"privilege_claim", regexp.MustCompile(`(?i)admin\s+override`)},
	{"privilege_claim", regexp.MustCompile(`(?i)developer\s+mode`)},
	{"jailbreak", regexp.MustCompile(`(?i)jailbreak`)},
	{"role_delimiter", regexp.MustCompile(`(?i)\[/?INST\]`)},
	{"role_delimiter", regexp.MustCompile(`(?i)<\|im_start\|>`)},
	{"role_delimiter", regexp.MustCompile(`(?i)###\s*(instruction|system|human|assistant)`)},
}

type injectionHit struct {
	span
	name string
}

// matchInjection returns non-overlapping hits ordered by position. When two
// patterns overlap the earlier, then longer, match wins.
func matchInjection(patterns []injectionPattern, text string) []injectionHit {
	var all []injectionHit
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			all = append(all, injectionHit{span: span{start: loc[0], end: loc[1]}, name: p.name})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end > all[j].end
	})
	var out []injectionHit
	var taken []span
	for _, h := range all {
		if overlapsAny(h.span, taken) {
			continue
		}
		taken = append(taken, h.span)
		out = append(out, h)
	}
	return out
}

// InjectionDetector flags instruction-override phrasing in every non-hidden
// segment. Hidden spans belong to HiddenDetector.
type InjectionDetector struct{}

func (InjectionDetector) Name() string { return "prompt_injection" }

func (InjectionDetector) Scan(ctx context.Context, scope *Scope) ([]Finding, error) {
	patterns := scope.Policy.injectionPatterns()
	segs, err := textSegments(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []Finding
	for _, seg := range segs {
		if seg.Hidden {
			continue
		}
		sev := SeverityHigh
		if visibleLocation(seg.Location) && scope.Depth == 0 {
			sev = scope.Policy.VisibleInjectionSeverity
		}
		var found []Finding
		for _, h := range matchInjection(patterns, seg.Text) {
			f := newFinding(KindPromptInjection, sev, seg.Location, h.start, h.end, seg.Text[h.start:h.end], 0.9, scope.Depth)
			f.Note = h.name
			found = append(found, f)
		}
		sortByPosition(found)
		out = append(out, found...)
	}
	return out, nil
}
