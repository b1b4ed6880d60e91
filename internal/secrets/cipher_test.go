package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewAESCipher(testKey)
	require.NoError(t, err)

	enc, err := c.Encrypt("db-password-123")
	require.NoError(t, err)
	assert.NotContains(t, enc, "db-password-123")

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "db-password-123", dec)
}

func TestCipherNonDeterministic(t *testing.T) {
	c, err := NewAESCipher(testKey)
	require.NoError(t, err)

	a, err := c.Encrypt("sk-value")
	require.NoError(t, err)
	b, err := c.Encrypt("sk-value")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "each encryption uses a fresh nonce")
}

func TestCipherRejectsBadKey(t *testing.T) {
	_, err := NewAESCipher("abcd")
	require.Error(t, err)

	_, err = NewAESCipher(strings.Repeat("zz", 32))
	require.Error(t, err)
}

func TestCipherRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewAESCipher(testKey)
	require.NoError(t, err)

	_, err = c.Decrypt("not base64!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	enc, err := c.Encrypt("secret")
	require.NoError(t, err)
	_, err = c.Decrypt(enc[:len(enc)-4])
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
