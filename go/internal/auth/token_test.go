package auth

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("secret", clockwork.NewFakeClock())

	tok, err := tokens.IssueAccess("42", 0)
	require.NoError(t, err)

	uid, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", uid)
}

func TestVerifyRejects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tokens := NewTokens("secret", clock)

	_, err := tokens.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	other, err := NewTokens("other", clock).IssueAccess("42", 0)
	require.NoError(t, err)
	_, err = tokens.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	refresh, err := tokens.IssueRefresh("42")
	require.NoError(t, err)
	_, err = tokens.Verify(refresh)
	assert.ErrorIs(t, err, ErrRefreshToken)

	short, err := tokens.IssueAccess("42", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = tokens.Verify(short)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
