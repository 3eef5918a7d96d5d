package detect

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// confusables maps Cyrillic and Greek letters to the Latin letters they
// render as.
var confusables = map[rune]rune{
	'а': 'a', 'А': 'A', 'В': 'B', 'с': 'c', 'С': 'C', 'е': 'e', 'Е': 'E',
	'Н': 'H', 'і': 'i', 'І': 'I', 'К': 'K', 'М': 'M', 'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P', 'Т': 'T', 'х': 'x', 'Х': 'X', 'у': 'y', 'У': 'Y',
	'ѕ': 's', 'Ѕ': 'S', 'ј': 'j', 'Ј': 'J', 'ԁ': 'd', 'һ': 'h',

	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'ο': 'o', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
	'Ζ': 'Z', 'ι': 'i', 'ν': 'v', 'α': 'a',
}

// invisible reports zero-width, bidi control and tag characters.
func invisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\ufeff', '\u2060', '\u180e', '\u200e', '\u200f':
		return true
	}
	switch {
	case r >= '\u202a' && r <= '\u202e':
		return true
	case r >= '\u2066' && r <= '\u2069':
		return true
	}
	return r >= 0xE0001 && r <= 0xE007F
}

// folded is text after homoglyph mapping, NFKC folding and removal of
// invisible characters. offsets[i] is the raw byte offset that produced
// byte i of text; offsets has one extra entry for the end.
type folded struct {
	text      string
	offsets   []int
	invisible int
	firstHide int
	changed   bool
}

func fold(raw string) folded {
	var b strings.Builder
	b.Grow(len(raw))
	f := folded{offsets: make([]int, 0, len(raw)+1), firstHide: -1}
	for i, r := range raw {
		if invisible(r) {
			if f.firstHide < 0 {
				f.firstHide = i
			}
			f.invisible++
			f.changed = true
			continue
		}
		out := string(r)
		if latin, ok := confusables[r]; ok {
			out = string(latin)
		} else if r >= utf8.RuneSelf {
			out = norm.NFKC.String(out)
		}
		if out != string(r) {
			f.changed = true
		}
		for j := 0; j < len(out); j++ {
			f.offsets = append(f.offsets, i)
		}
		b.WriteString(out)
	}
	f.offsets = append(f.offsets, len(raw))
	f.text = b.String()
	return f
}

// rawSpan maps a span of the folded text back to the raw text. An end that
// falls inside the expansion of one raw rune is moved past that rune.
func (f folded) rawSpan(s span) span {
	k := s.end
	for k > 0 && k < len(f.offsets)-1 && f.offsets[k] == f.offsets[k-1] {
		k++
	}
	return span{start: f.offsets[s.start], end: f.offsets[k]}
}

// foldedOnlyHits returns injection hits present in the folded form of text
// that no raw-form hit overlaps, as raw spans.
func foldedOnlyHits(patterns []injectionPattern, text string) ([]injectionHit, folded) {
	f := fold(text)
	if !f.changed {
		return nil, f
	}
	raw := matchInjection(patterns, text)
	rawSpans := make([]span, len(raw))
	for i, h := range raw {
		rawSpans[i] = h.span
	}
	var out []injectionHit
	for _, h := range matchInjection(patterns, f.text) {
		rs := f.rawSpan(h.span)
		if overlapsAny(rs, rawSpans) {
			continue
		}
		out = append(out, injectionHit{span: rs, name: h.name})
	}
	return out, f
}

// UnicodeDetector flags injection phrasing that only appears once look-alike
// letters are mapped to Latin and invisible characters removed. Invisible or
// bidi control characters on their own are a MEDIUM finding.
type UnicodeDetector struct{}

func (UnicodeDetector) Name() string { return "unicode_attack" }

func (UnicodeDetector) Scan(ctx context.Context, scope *Scope) ([]Finding, error) {
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
		hits, f := foldedOnlyHits(patterns, seg.Text)
		var found []Finding
		for _, h := range hits {
			fd := newFinding(KindUnicodeAttack, SeverityHigh, seg.Location, h.start, h.end, seg.Text[h.start:h.end], 0.9, scope.Depth)
			fd.Note = "obfuscated " + h.name
			found = append(found, fd)
		}
		if len(found) == 0 && f.invisible > 0 {
			r, size := utf8.DecodeRuneInString(seg.Text[f.firstHide:])
			fd := newFinding(KindUnicodeAttack, SeverityMedium, seg.Location, f.firstHide, f.firstHide+size, "", 0.7, scope.Depth)
			fd.Evidence = fmt.Sprintf("U+%04X", r)
			fd.Note = fmt.Sprintf("%d invisible or bidi control characters", f.invisible)
			found = append(found, fd)
		}
		sortByPosition(found)
		out = append(out, found...)
	}
	return out, nil
}
