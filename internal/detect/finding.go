package detect

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Kind names the class of a finding. PII kinds carry the pattern type after
// the "PII:" prefix.
type Kind string

const (
	KindPromptInjection Kind = "PROMPT_INJECTION"
	KindHiddenContent   Kind = "HIDDEN_CONTENT"
	KindEncodedContent  Kind = "ENCODED_CONTENT"
	KindUnicodeAttack   Kind = "UNICODE_ATTACK"
	KindRecursionLimit  Kind = "RECURSION_LIMIT"

	piiPrefix = "PII:"
)

func PIIKind(piiType string) Kind {
	return Kind(piiPrefix + piiType)
}

func (k Kind) IsPII() bool {
	return strings.HasPrefix(string(k), piiPrefix)
}

// MaxEvidenceRunes bounds the excerpt kept in Finding.Evidence.
const MaxEvidenceRunes = 64

// Finding is one detector hit. Start and End are byte offsets into the text
// of the segment named by Location. Evidence is bounded and masked, so a
// finding can be shown to a caller; the raw match stays in Match, which is
// never serialized.
type Finding struct {
	Kind       Kind     `json:"kind"`
	Severity   Severity `json:"severity"`
	Location   string   `json:"location"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Evidence   string   `json:"evidence"`
	Confidence float64  `json:"confidence"`
	Depth      int      `json:"depth,omitempty"`
	Note       string   `json:"note,omitempty"`

	Match string `json:"-"`
}

func newFinding(kind Kind, sev Severity, location string, start, end int, match string, confidence float64, depth int) Finding {
	return Finding{
		Kind:       kind,
		Severity:   sev,
		Location:   location,
		Start:      start,
		End:        end,
		Evidence:   Mask(excerpt(match)),
		Confidence: confidence,
		Depth:      depth,
		Match:      match,
	}
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= MaxEvidenceRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxEvidenceRunes])
}

// sortByPosition orders findings of one segment by start offset, then kind.
func sortByPosition(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Start != fs[j].Start {
			return fs[i].Start < fs[j].Start
		}
		return fs[i].Kind < fs[j].Kind
	})
}

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

func overlapsAny(s span, taken []span) bool {
	for _, t := range taken {
		if s.overlaps(t) {
			return true
		}
	}
	return false
}
