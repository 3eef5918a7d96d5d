package detect

import (
	"strings"
	"unicode/utf8"
)

// RedactionToken replaces every span of a blocked response.
const RedactionToken = "[REDACTED]"

// Mask keeps the first and last two runes of v and stars the rest. Values
// of four runes or fewer are fully replaced.
func Mask(v string) string {
	n := utf8.RuneCountInString(v)
	if n <= 4 {
		return "****"
	}
	runes := []rune(v)
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// MaskSensitive masks every PII value found in s and leaves the rest of the
// text intact. It is the redactor applied to audit details.
func MaskSensitive(s string) string {
	if s == "" {
		return s
	}
	hits := matchPII(s)
	if len(hits) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, h := range hits {
		b.WriteString(s[last:h.start])
		b.WriteString(Mask(s[h.start:h.end]))
		last = h.end
	}
	b.WriteString(s[last:])
	return b.String()
}
