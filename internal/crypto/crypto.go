// Package crypto implements the per-block authenticated-encryption
// contract every persisted block on the data and metadata devices is
// subject to: AES-128-GCM, a fresh (key, nonce) per block, sealed
// in-place with a detached 16-byte MAC.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

const (
	// KeySize is the AES-128 key length in bytes.
	KeySize = 16
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// MACSize is the GCM authentication tag length in bytes.
	MACSize = 16
)

// Key is a fresh, single-use AES-128 key.
type Key [KeySize]byte

// Nonce is a fresh, single-use GCM nonce. The engine never reuses a
// (Key, Nonce) pair across two blocks; see NewKey/NewNonce.
type Nonce [NonceSize]byte

// MAC is the detached authentication tag produced by Encrypt and
// required by Decrypt.
type MAC [MACSize]byte

// NewKey draws a fresh AES-128 key from the system CSPRNG.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, sderrors.NewStorageError(err, sderrors.ErrorCodeInternal, "failed to generate key material")
	}
	return k, nil
}

// NewNonce draws a fresh GCM nonce from the system CSPRNG.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, sderrors.NewStorageError(err, sderrors.ErrorCodeInternal, "failed to generate nonce material")
	}
	return n, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("construct AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("construct GCM mode: %w", err)
	}
	return gcm, nil
}

// Encrypt seals buf in place under (key, nonce) and returns the
// detached MAC. Callers must never invoke Encrypt twice with the same
// (key, nonce) pair; NewKey/NewNonce guarantee freshness per call.
func Encrypt(key Key, nonce Nonce, buf []byte) (MAC, error) {
	var mac MAC

	gcm, err := newGCM(key)
	if err != nil {
		return mac, sderrors.NewStorageError(err, sderrors.ErrorCodeInternal, "failed to initialize AEAD cipher")
	}

	sealed := gcm.Seal(nil, nonce[:], buf, nil)
	copy(buf, sealed[:len(buf)])
	copy(mac[:], sealed[len(buf):])
	return mac, nil
}

// Decrypt opens buf in place under (key, nonce, mac), verifying the
// MAC before any plaintext is returned. A mismatched MAC yields an
// AuthError; the engine treats this as a hard, non-recoverable read
// failure for the block in question.
func Decrypt(key Key, nonce Nonce, mac MAC, buf []byte) error {
	gcm, err := newGCM(key)
	if err != nil {
		return sderrors.NewStorageError(err, sderrors.ErrorCodeInternal, "failed to initialize AEAD cipher")
	}

	sealed := append(append([]byte(nil), buf...), mac[:]...)
	if _, err := gcm.Open(buf[:0], nonce[:], sealed, nil); err != nil {
		return sderrors.NewAuthError(err, "block failed authentication")
	}
	return nil
}
