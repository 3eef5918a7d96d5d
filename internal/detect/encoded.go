package detect

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"warden/internal/extract"
)

var base64Run = regexp.MustCompile(`[A-Za-z0-9+/_-]{20,}={0,2}`)

const (
	minDecodedLen    = 11
	minEntropyLen    = 32
	entropyThreshold = 4.2
)

// EncodedDetector decodes base64 runs and rescans printable payloads with
// the full detector list one level deeper. The ENCODED_CONTENT finding for a
// run is promoted to the highest severity found inside it and is followed by
// the inner findings.
type EncodedDetector struct{}

func (EncodedDetector) Name() string { return "encoded_content" }

func (EncodedDetector) Scan(ctx context.Context, scope *Scope) ([]Finding, error) {
	segs, err := textSegments(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []Finding
	for _, seg := range segs {
		for _, loc := range base64Run.FindAllStringIndex(seg.Text, -1) {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			run := seg.Text[loc[0]:loc[1]]
			decoded, ok := decodeBase64(run)
			if !ok {
				if highEntropy(run) {
					f := newFinding(KindEncodedContent, SeverityLow, seg.Location, loc[0], loc[1], run, 0.5, scope.Depth)
					f.Note = "undecodable high-entropy run"
					out = append(out, f)
				}
				continue
			}

			next := scope.Depth + 1
			if next > scope.Policy.MaxEncodedDepth {
				f := newFinding(KindEncodedContent, SeverityHigh, seg.Location, loc[0], loc[1], run, 0.9, scope.Depth)
				f.Note = fmt.Sprintf("encoding nested deeper than %d levels", scope.Policy.MaxEncodedDepth)
				out = append(out, f)
				continue
			}

			inner, err := scope.Rescan(ctx, decoded, next)
			if err != nil {
				return out, err
			}
			f := newFinding(KindEncodedContent, SeverityLow, seg.Location, loc[0], loc[1], run, 0.8, scope.Depth)
			for _, in := range inner {
				f.Severity = maxSeverity(f.Severity, in.Severity)
			}
			f.Note = fmt.Sprintf("base64, %d inner findings", len(inner))
			out = append(out, f)

			prefix := fmt.Sprintf("%s>base64[%d:%d]", seg.Location, loc[0], loc[1])
			for _, in := range inner {
				in.Location = nestLocation(prefix, in.Location)
				out = append(out, in)
			}
		}
	}
	return out, nil
}

// nestLocation attributes an inner finding to the decoded span. Decoded
// payloads are scanned as plain text, so their locations all start with the
// visible-text segment.
func nestLocation(prefix, inner string) string {
	if rest, ok := strings.CutPrefix(inner, extract.LocVisible); ok {
		return prefix + rest
	}
	return prefix + ">" + inner
}

// decodeBase64 accepts standard and URL alphabets, padded or not, and
// returns the payload only when it is printable text.
func decodeBase64(run string) (string, bool) {
	trimmed := strings.TrimRight(run, "=")
	var raw []byte
	var err error
	if strings.ContainsAny(trimmed, "-_") {
		raw, err = base64.RawURLEncoding.DecodeString(trimmed)
	} else {
		raw, err = base64.RawStdEncoding.DecodeString(trimmed)
	}
	if err != nil {
		return "", false
	}
	if len(raw) < minDecodedLen || !printable(raw) {
		return "", false
	}
	return string(raw), true
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// highEntropy reports Shannon entropy per character above the threshold.
func highEntropy(s string) bool {
	if len(s) < minEntropyLen {
		return false
	}
	freq := make(map[rune]float64)
	total := 0.0
	for _, r := range s {
		freq[r]++
		total++
	}
	entropy := 0.0
	for _, c := range freq {
		p := c / total
		entropy -= p * math.Log2(p)
	}
	return entropy >= entropyThreshold
}
