// Package bitmap wraps bits-and-blooms/bitset with the fixed-length,
// flat on-disk encoding the Segment Validity Tables and Data Segment
// Tables require: a known-length bit vector, not the library's own
// length-prefixed binary format.
package bitmap

import (
	"github.com/bits-and-blooms/bitset"

	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// Bitmap is a fixed-length bit vector over [0, length).
type Bitmap struct {
	bits   *bitset.BitSet
	length uint
}

// New allocates a Bitmap of the given bit length, all bits clear.
func New(length uint) *Bitmap {
	return &Bitmap{bits: bitset.New(length), length: length}
}

// Len returns the number of addressable bits.
func (b *Bitmap) Len() uint { return b.length }

// Test reports whether bit i is set.
func (b *Bitmap) Test(i uint) bool { return b.bits.Test(i) }

// Set marks bit i as used.
func (b *Bitmap) Set(i uint) { b.bits.Set(i) }

// Clear marks bit i as free.
func (b *Bitmap) Clear(i uint) { b.bits.Clear(i) }

// Count returns the number of set bits.
func (b *Bitmap) Count() uint { return b.bits.Count() }

// FirstZero returns the index of the lowest-numbered clear bit,
// or NoSpace if every bit in [0, length) is set.
func (b *Bitmap) FirstZero() (uint, error) {
	for i := uint(0); i < b.length; i++ {
		if !b.bits.Test(i) {
			return i, nil
		}
	}
	return 0, sderrors.NewStorageError(nil, sderrors.ErrorCodeNoSpace, "bitmap exhausted").
		WithDetail("length", b.length)
}

// MarshalTo encodes the bitmap as a flat, fixed-width byte slice of
// ByteLen(length) bytes: bit i lives at byte i/8, bit i%8 (LSB-first
// within a byte), independent of the library's own serialization.
func (b *Bitmap) MarshalTo() []byte {
	out := make([]byte, ByteLen(b.length))
	for i := uint(0); i < b.length; i++ {
		if b.bits.Test(i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// UnmarshalFrom decodes a flat bit vector of the given bit length
// previously produced by MarshalTo.
func UnmarshalFrom(data []byte, length uint) (*Bitmap, error) {
	if uint(len(data)) < ByteLen(length) {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "bitmap buffer too short").
			WithDetail("want", ByteLen(length)).WithDetail("got", len(data))
	}

	b := New(length)
	for i := uint(0); i < length; i++ {
		if data[i/8]&(1<<(i%8)) != 0 {
			b.bits.Set(i)
		}
	}
	return b, nil
}

// ByteLen returns the number of bytes needed to hold length bits.
func ByteLen(length uint) uint {
	return (length + 7) / 8
}
