package detect

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity orders findings. The zero value is not a valid severity.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(v string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(v))
	for s, name := range severityNames {
		if name == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", v)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

func maxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}
