package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, SeverityHigh, p.BlockThreshold)
	assert.Equal(t, SeverityHigh, p.VisibleInjectionSeverity)
	assert.Equal(t, 3, p.MaxEncodedDepth)
	assert.Equal(t, 10, p.MaxStructuredDepth)
	assert.Len(t, p.injectionPatterns(), len(builtinInjection))
}

func TestParsePolicy(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		p, err := ParsePolicy([]byte(`
block_threshold: medium
visible_injection_severity: LOW
max_encoded_depth: 2
max_structured_depth: 5
extra_injection_patterns:
  - "  Reveal the System Prompt "
  - reveal the system prompt
  - ""
  - act as root
`))
		require.NoError(t, err)
		assert.Equal(t, SeverityMedium, p.BlockThreshold)
		assert.Equal(t, SeverityLow, p.VisibleInjectionSeverity)
		assert.Equal(t, 2, p.MaxEncodedDepth)
		assert.Equal(t, 5, p.MaxStructuredDepth)
		assert.Equal(t, []string{"reveal the system prompt", "act as root"}, p.ExtraInjectionPatterns)
		assert.Len(t, p.injectionPatterns(), len(builtinInjection)+2)
	})

	t.Run("empty file takes defaults", func(t *testing.T) {
		p, err := ParsePolicy(nil)
		require.NoError(t, err)
		assert.Equal(t, SeverityHigh, p.BlockThreshold)
	})

	t.Run("extra phrases are literal", func(t *testing.T) {
		p, err := ParsePolicy([]byte("extra_injection_patterns: ['sudo (rm) .*']\n"))
		require.NoError(t, err)
		assert.Empty(t, matchInjection(p.injectionPatterns(), "sudo rm everything"))
		assert.Len(t, matchInjection(p.injectionPatterns(), "please SUDO (rm) .* now"), 1)
	})

	errCases := map[string]string{
		"unknown key":      "block_treshold: high\n",
		"unknown severity": "block_threshold: severe\n",
		"depth too large":  "max_encoded_depth: 50\n",
		"negative depth":   "max_structured_depth: -1\n",
		"not a mapping":    "- high\n",
	}
	for name, body := range errCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_threshold: critical\n"), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, p.BlockThreshold)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeverityText(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Severity
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := Severity(0).MarshalText()
	assert.Error(t, err)
	assert.True(t, SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical)
}
