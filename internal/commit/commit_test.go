package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcast/marketd/internal/domain"
)

func TestNewRoundTrip(t *testing.T) {
	c, err := New(domain.OutcomeYes, "market-1")
	require.NoError(t, err)
	assert.Len(t, c.Secret, 64) // 32 bytes hex
	assert.Len(t, c.Hash, 64)
	assert.True(t, Verify(c.Hash, domain.OutcomeYes, c.Secret, "market-1"))
}

func TestVerifyFlippedInputs(t *testing.T) {
	c, err := New(domain.OutcomeNo, "market-1")
	require.NoError(t, err)

	assert.False(t, Verify(c.Hash, domain.OutcomeYes, c.Secret, "market-1"), "flipped outcome")
	assert.False(t, Verify(c.Hash, domain.OutcomeNo, "deadbeef", "market-1"), "flipped secret")
	assert.False(t, Verify(c.Hash, domain.OutcomeNo, c.Secret, "market-2"), "flipped market id")
	assert.False(t, Verify("0000", domain.OutcomeNo, c.Secret, "market-1"), "flipped hash")
}

func TestSecretsAreUnique(t *testing.T) {
	a, err := New(domain.OutcomeRefunded, "m")
	require.NoError(t, err)
	b, err := New(domain.OutcomeRefunded, "m")
	require.NoError(t, err)
	assert.NotEqual(t, a.Secret, b.Secret)
	assert.NotEqual(t, a.Hash, b.Hash)
}
