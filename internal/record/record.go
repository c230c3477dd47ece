// Package record defines the atomic index entry the engine maps every
// logical block address onto: the physical location plus the
// cryptographic material required to authenticate and decrypt it.
package record

import (
	"encoding/binary"

	"github.com/nilotpal-labs/sworndisk/internal/crypto"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// Size is the fixed on-disk width of a serialized Record in bytes:
// an 8-byte HBA plus the AEAD key, nonce, and MAC.
const Size = 8 + crypto.KeySize + crypto.NonceSize + crypto.MACSize

// Record authenticates exactly one BLOCK_SIZE block. Records are
// immutable once persisted; an overwrite of the same LBA allocates a
// new Record rather than mutating this one.
type Record struct {
	HBA   uint64
	Key   crypto.Key
	Nonce crypto.Nonce
	MAC   crypto.MAC
}

// MarshalTo encodes r into a fixed Size-byte little-endian buffer.
func (r Record) MarshalTo() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint64(buf[0:8], r.HBA)
	copy(buf[8:8+crypto.KeySize], r.Key[:])
	off := 8 + crypto.KeySize
	copy(buf[off:off+crypto.NonceSize], r.Nonce[:])
	off += crypto.NonceSize
	copy(buf[off:off+crypto.MACSize], r.MAC[:])
	return buf
}

// Unmarshal decodes a Record from a Size-byte little-endian buffer.
func Unmarshal(buf []byte) (Record, error) {
	var r Record
	if len(buf) < Size {
		return r, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "record buffer too short").
			WithDetail("want", Size).WithDetail("got", len(buf))
	}

	r.HBA = binary.LittleEndian.Uint64(buf[0:8])
	copy(r.Key[:], buf[8:8+crypto.KeySize])
	off := 8 + crypto.KeySize
	copy(r.Nonce[:], buf[off:off+crypto.NonceSize])
	off += crypto.NonceSize
	copy(r.MAC[:], buf[off:off+crypto.MACSize])
	return r, nil
}
