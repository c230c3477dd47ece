package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0xAA}, 4096)
	buf := append([]byte(nil), plaintext...)

	mac, err := Encrypt(key, nonce, buf)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, buf, "ciphertext must differ from plaintext")

	require.NoError(t, Decrypt(key, nonce, mac, buf))
	require.Equal(t, plaintext, buf)
}

func TestDecryptDetectsTampering(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	buf := bytes.Repeat([]byte{0x42}, 64)
	mac, err := Encrypt(key, nonce, buf)
	require.NoError(t, err)

	buf[0] ^= 0xFF
	err = Decrypt(key, nonce, mac, buf)
	require.Error(t, err)

	require.True(t, sderrors.IsAuthError(err))
}

func TestKeyAndNonceAreFresh(t *testing.T) {
	k1, err := NewKey()
	require.NoError(t, err)
	k2, err := NewKey()
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)

	n1, err := NewNonce()
	require.NoError(t, err)
	n2, err := NewNonce()
	require.NoError(t, err)
	require.NotEqual(t, n1, n2)
}
