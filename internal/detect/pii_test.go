package detect

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindsOf(fs []Finding) []Kind {
	out := make([]Kind, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Kind)
	}
	return out
}

func TestPIIRoundTrip(t *testing.T) {
	findings := scanPII("visible_text", "SSN: 123-45-6789, reach me at 555-123-4567", 0)

	require.Len(t, findings, 2)
	assert.Equal(t, PIIKind("ssn"), findings[0].Kind)
	assert.Equal(t, "123-45-6789", findings[0].Match)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
	assert.Equal(t, PIIKind("phone_us"), findings[1].Kind)
	assert.Equal(t, "555-123-4567", findings[1].Match)
	assert.Equal(t, "55********67", findings[1].Evidence)
}

func TestPIIPatterns(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		kinds []Kind
	}{
		{"ssn suppresses phone", "id 123-45-6789", []Kind{PIIKind("ssn")}},
		{"card with valid checksum", "card 4111 1111 1111 1111", []Kind{PIIKind("credit_card")}},
		{"card with dashes", "card 5500-0000-0000-0004", []Kind{PIIKind("credit_card")}},
		{"ssn without dashes", "ref 123456789 end", []Kind{PIIKind("ssn_no_dash")}},
		{"phone with country code", "call +1 (555) 123-4567", []Kind{PIIKind("phone_us")}},
		{"email", "mail jane.doe+x@example.co.uk today", []Kind{PIIKind("email")}},
		{"email needs alphabetic tld", "mail jane@example.c0m", nil},
		{"plain text", "nothing to see here", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kindsOf(scanPII("visible_text", tt.text, 0))
			if tt.kinds == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.kinds, got)
		})
	}
}

func TestCardFailingChecksumIsNotReported(t *testing.T) {
	got := kindsOf(scanPII("visible_text", "card 1234 5678 9012 3456", 0))
	assert.NotContains(t, got, PIIKind("credit_card"))
}

func TestLuhn(t *testing.T) {
	assert.True(t, luhnValid("4111111111111111"))
	assert.True(t, luhnValid("4111-1111-1111-1111"))
	assert.True(t, luhnValid("378282246310005"))
	assert.False(t, luhnValid("4111111111111112"))
	assert.False(t, luhnValid("0000"))
}

func TestFindingsOrderedByPosition(t *testing.T) {
	findings := scanPII("visible_text", "a@b.io then 555-123-4567 then 123-45-6789", 0)
	require.Len(t, findings, 3)
	assert.True(t, findings[0].Start < findings[1].Start)
	assert.True(t, findings[1].Start < findings[2].Start)
	assert.Equal(t, []Kind{PIIKind("email"), PIIKind("phone_us"), PIIKind("ssn")}, kindsOf(findings))
}

func decodeTree(t *testing.T, raw string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var tree any
	require.NoError(t, dec.Decode(&tree))
	return tree
}

func TestStructuredWalkReportsPaths(t *testing.T) {
	tree := decodeTree(t, `{
		"user": {"profile": {"contact": {"details": [{"value": "jane@example.com"}]}}},
		"account": 123456789,
		"note": null
	}`)

	findings, err := scanStructured(context.Background(), tree, DefaultMaxStructuredDepth, 0)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "$.account", findings[0].Location)
	assert.Equal(t, PIIKind("ssn_no_dash"), findings[0].Kind)
	assert.Equal(t, "$.user.profile.contact.details[0].value", findings[1].Location)
	assert.Equal(t, PIIKind("email"), findings[1].Kind)
}

func TestStructuredWalkStopsAtDepthLimit(t *testing.T) {
	var tree any = "123-45-6789"
	for i := 0; i < DefaultMaxStructuredDepth+1; i++ {
		tree = map[string]any{"n": tree}
	}

	_, err := scanStructured(context.Background(), tree, DefaultMaxStructuredDepth, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecursionLimitExceeded))

	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, DefaultMaxStructuredDepth, limit.Limit)
	assert.True(t, strings.HasPrefix(limit.Location, "$.n.n"))
}

func TestStructuredWalkAtDepthLimitSucceeds(t *testing.T) {
	var tree any = "123-45-6789"
	for i := 0; i < DefaultMaxStructuredDepth; i++ {
		tree = map[string]any{"n": tree}
	}

	findings, err := scanStructured(context.Background(), tree, DefaultMaxStructuredDepth, 0)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, PIIKind("ssn"), findings[0].Kind)
}
