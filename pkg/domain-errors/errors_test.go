package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, CodeInternal, "failed to append")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, CodeInternal))
	assert.Equal(t, "failed to append: boom", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestHasCodeWalksNestedErrors(t *testing.T) {
	inner := New(CodeForbidden, "insufficient privilege")
	outer := Wrap(fmt.Errorf("authorize: %w", inner), CodeInternal, "call failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeForbidden))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.Equal(t, CodeInternal, CodeOf(outer))
}

func TestIsComparesCodeAndMessage(t *testing.T) {
	err := New(CodeUnauthorized, "token has expired")
	assert.ErrorIs(t, err, New(CodeUnauthorized, "token has expired"))
	assert.NotErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Empty(t, MessageOf(errors.New("plain")))
}
