package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(DefaultParams())

	encoded, err := h.Hash("483920")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := h.Verify("483920", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("483921", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_SaltsDiffer(t *testing.T) {
	h := NewHasher(DefaultParams())

	first, err := h.Hash("112233")
	require.NoError(t, err)
	second, err := h.Hash("112233")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "same code must hash differently under fresh salts")
}

func TestHasher_InvalidEncodings(t *testing.T) {
	h := NewHasher(DefaultParams())

	for _, encoded := range []string{
		"",
		"plainhash",
		"$bcrypt$v=19$m=16,t=2,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
	} {
		_, err := h.Verify("123456", encoded)
		assert.ErrorIs(t, err, ErrInvalidHash, "encoded=%q", encoded)
	}
}
