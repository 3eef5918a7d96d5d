package detect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	pstrings "warden/pkg/platform/strings"
)

const (
	DefaultMaxEncodedDepth    = 3
	DefaultMaxStructuredDepth = 10
)

// Policy tunes the fixed detector set. It cannot add or reorder detectors.
// A loaded Policy is immutable; reloads build a new one.
type Policy struct {
	BlockThreshold           Severity `yaml:"block_threshold"`
	VisibleInjectionSeverity Severity `yaml:"visible_injection_severity"`
	MaxEncodedDepth          int      `yaml:"max_encoded_depth"`
	MaxStructuredDepth       int      `yaml:"max_structured_depth"`
	// ExtraInjectionPatterns are literal phrases matched case-insensitively
	// with any run of whitespace between words.
	ExtraInjectionPatterns []string `yaml:"extra_injection_patterns"`

	injection []injectionPattern
}

func DefaultPolicy() *Policy {
	p := &Policy{}
	if err := p.finish(); err != nil {
		panic(err)
	}
	return p
}

// ParsePolicy decodes a YAML policy. Unknown keys are rejected and omitted
// keys take their defaults.
func ParsePolicy(data []byte) (*Policy, error) {
	p := &Policy{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode detection policy: %w", err)
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read detection policy: %w", err)
	}
	return ParsePolicy(data)
}

func (p *Policy) finish() error {
	if p.BlockThreshold == 0 {
		p.BlockThreshold = SeverityHigh
	}
	if p.VisibleInjectionSeverity == 0 {
		p.VisibleInjectionSeverity = SeverityHigh
	}
	if p.MaxEncodedDepth == 0 {
		p.MaxEncodedDepth = DefaultMaxEncodedDepth
	}
	if p.MaxStructuredDepth == 0 {
		p.MaxStructuredDepth = DefaultMaxStructuredDepth
	}
	if !p.BlockThreshold.Valid() {
		return fmt.Errorf("block_threshold: invalid severity %d", int(p.BlockThreshold))
	}
	if !p.VisibleInjectionSeverity.Valid() {
		return fmt.Errorf("visible_injection_severity: invalid severity %d", int(p.VisibleInjectionSeverity))
	}
	if p.MaxEncodedDepth < 1 || p.MaxEncodedDepth > 8 {
		return fmt.Errorf("max_encoded_depth must be between 1 and 8, got %d", p.MaxEncodedDepth)
	}
	if p.MaxStructuredDepth < 1 || p.MaxStructuredDepth > 64 {
		return fmt.Errorf("max_structured_depth must be between 1 and 64, got %d", p.MaxStructuredDepth)
	}

	p.ExtraInjectionPatterns = pstrings.DedupeAndTrimLower(p.ExtraInjectionPatterns)
	p.injection = append([]injectionPattern(nil), builtinInjection...)
	for _, phrase := range p.ExtraInjectionPatterns {
		re, err := phrasePattern(phrase)
		if err != nil {
			return fmt.Errorf("extra_injection_patterns %q: %w", phrase, err)
		}
		p.injection = append(p.injection, injectionPattern{name: "custom", re: re})
	}
	return nil
}

func phrasePattern(phrase string) (*regexp.Regexp, error) {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)` + strings.Join(words, `\s+`))
}

func (p *Policy) injectionPatterns() []injectionPattern {
	return p.injection
}
