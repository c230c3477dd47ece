package checkpoint

import (
	"encoding/binary"

	"github.com/nilotpal-labs/sworndisk/internal/bitmap"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// DST (Data Segment Table) tracks, for one data segment, which of its
// SegmentBlocks blocks are currently in use, plus the Unix-nanosecond
// timestamp of the last modification.
type DST struct {
	LastModify int64
	blocks     *bitmap.Bitmap
}

// NewDST allocates a DST over segmentBlocks blocks, all free.
func NewDST(segmentBlocks uint) *DST {
	return &DST{blocks: bitmap.New(segmentBlocks)}
}

// AllocBlock returns the first free block index within the segment
// and marks it used, bumping LastModify to now.
func (d *DST) AllocBlock(nowUnixNano int64) (uint, error) {
	idx, err := d.blocks.FirstZero()
	if err != nil {
		return 0, err
	}
	d.blocks.Set(idx)
	d.LastModify = nowUnixNano
	return idx, nil
}

// ReleaseBlock marks a block index within the segment free again.
func (d *DST) ReleaseBlock(idx uint, nowUnixNano int64) {
	d.blocks.Clear(idx)
	d.LastModify = nowUnixNano
}

// IsUsed reports whether a block index within the segment is in use.
func (d *DST) IsUsed(idx uint) bool { return d.blocks.Test(idx) }

// UsedCount returns the number of in-use blocks in the segment.
func (d *DST) UsedCount() uint { return d.blocks.Count() }

// MarshalTo encodes the DST as `[last_modify:8][bvm_len:8][bvm:bvm_len]`.
func (d *DST) MarshalTo() []byte {
	bvm := d.blocks.MarshalTo()
	buf := make([]byte, 16+len(bvm))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(d.LastModify))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(bvm)))
	copy(buf[16:], bvm)
	return buf
}

// UnmarshalDST decodes a DST entry, returning the number of bytes
// consumed from data so callers can advance through a concatenated
// DST array.
func UnmarshalDST(data []byte, segmentBlocks uint) (*DST, int, error) {
	if len(data) < 16 {
		return nil, 0, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "dst entry header truncated")
	}

	lastModify := int64(binary.LittleEndian.Uint64(data[0:8]))
	bvmLen := binary.LittleEndian.Uint64(data[8:16])

	if uint64(len(data)) < 16+bvmLen {
		return nil, 0, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "dst entry bitmap truncated")
	}

	blocks, err := bitmap.UnmarshalFrom(data[16:16+bvmLen], segmentBlocks)
	if err != nil {
		return nil, 0, err
	}

	return &DST{LastModify: lastModify, blocks: blocks}, int(16 + bvmLen), nil
}
