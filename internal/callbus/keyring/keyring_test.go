package keyring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var master = bytes.Repeat([]byte("k"), MinSecretLength)

func TestDeriveIsDeterministicPerLabel(t *testing.T) {
	a, err := Derive(master, LabelCapabilityToken)
	require.NoError(t, err)
	b, err := Derive(master, LabelCapabilityToken)
	require.NoError(t, err)
	grant, err := Derive(master, LabelDelegationGrant)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, grant)
}

func TestDeriveRejectsWeakInput(t *testing.T) {
	_, err := Derive([]byte("short"), LabelCapabilityToken)
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = Derive(master, "")
	assert.Error(t, err)
}
