package chain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "warden/pkg/platform/audit"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "chain.jsonl")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestAppendAndVerify(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	require.NoError(t, s.Append(ctx, audit.Event{CorrelationID: "c1", Action: "capability_issued", Decision: audit.DecisionAllow}))
	require.NoError(t, s.Append(ctx, audit.Event{CorrelationID: "c2", Action: "capability_denied", Decision: audit.DecisionDeny}))
	require.NoError(t, s.Append(ctx, audit.Event{CorrelationID: "c1", Action: "capability_admitted", Decision: audit.DecisionAllow}))

	res := Verify(path)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 3, res.Lines)

	events, err := s.ListByCorrelation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "capability_admitted", events[1].Action)

	recent, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "capability_admitted", recent[0].Action)
}

func TestReopenContinuesChain(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)
	require.NoError(t, s.Append(ctx, audit.Event{CorrelationID: "a", Action: "x"}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Append(ctx, audit.Event{CorrelationID: "a", Action: "y"}))

	assert.True(t, Verify(path).Valid)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)
	for _, action := range []string{"one", "two", "three"} {
		require.NoError(t, s.Append(ctx, audit.Event{CorrelationID: "t", Action: action, Decision: audit.DecisionAllow}))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"decision":"ALLOW"`, `"decision":"DENY"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	res := Verify(path)
	assert.False(t, res.Valid)
	assert.Equal(t, 2, res.ErrorLine)
}

func TestVerifyRejectsMissingGenesis(t *testing.T) {
	res := VerifyReader(strings.NewReader(`{"action":"x","prev_hash":"sha256:abc"}` + "\n"))
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.ErrorLine)
}
