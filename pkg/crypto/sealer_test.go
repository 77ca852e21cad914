package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer_EmptyKey(t *testing.T) {
	_, err := NewSealer("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealer_RoundTrip(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	for name, key := range map[string]string{
		"base64 key": base64.StdEncoding.EncodeToString(raw),
		"passphrase": "fleet operations",
	} {
		t.Run(name, func(t *testing.T) {
			s, err := NewSealer(key)
			require.NoError(t, err)

			sealed, err := s.Seal([]byte("MH12AB0001"), []byte("frame:s1"))
			require.NoError(t, err)
			assert.NotContains(t, string(sealed), "MH12AB0001")

			plain, err := s.Open(sealed, []byte("frame:s1"))
			require.NoError(t, err)
			assert.Equal(t, "MH12AB0001", string(plain))
		})
	}
}

func TestSealer_NonceIsRandom(t *testing.T) {
	s, err := NewSealer("k")
	require.NoError(t, err)

	a, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealer_Open_Failures(t *testing.T) {
	s, err := NewSealer("right")
	require.NoError(t, err)
	other, err := NewSealer("wrong")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"), []byte("frame:s1"))
	require.NoError(t, err)

	_, err = other.Open(sealed, []byte("frame:s1"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = s.Open(sealed, []byte("frame:s2"))
	assert.ErrorIs(t, err, ErrDecryptionFailed, "sealed value bound to its key")

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = s.Open(tampered, []byte("frame:s1"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = s.Open([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
