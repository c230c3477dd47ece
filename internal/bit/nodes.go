// Package bit implements the Block Index Table: a persisted,
// immutable, leveled index tree over LBA -> Record, built bottom-up
// from a MemTable generation and queried top-down through a pair of
// LRU node caches.
package bit

import (
	"encoding/binary"

	"github.com/nilotpal-labs/sworndisk/internal/record"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// leafEntrySize is the encoded width of one LeafRecord: an 8-byte LBA
// plus a serialized Record.
const leafEntrySize = 8 + record.Size

// indirectEntrySize is the encoded width of one IndirectRecord: two
// 8-byte LBA range bounds plus a serialized Record.
const indirectEntrySize = 8 + 8 + record.Size

// nodeHeaderSize is the 4-byte child-count prefix every node begins
// with.
const nodeHeaderSize = 4

// LeafBlockChildren returns the maximum number of LeafRecords a leaf
// node of the given block size can hold.
func LeafBlockChildren(blockSize uint32) int {
	return (int(blockSize) - nodeHeaderSize) / leafEntrySize
}

// IndirectBlockChildren returns the maximum number of IndirectRecords
// an indirect node of the given block size can hold.
func IndirectBlockChildren(blockSize uint32) int {
	return (int(blockSize) - nodeHeaderSize) / indirectEntrySize
}

// LeafRecord pairs a logical block address with the Record
// authenticating it. Leaves store these sorted by ascending LBA.
type LeafRecord struct {
	LBA    uint64
	Record record.Record
}

// LeafBlock is the bottom layer of a BIT: up to LeafBlockChildren
// LeafRecords in strictly increasing LBA order.
type LeafBlock struct {
	Records []LeafRecord
}

// MarshalTo encodes the leaf as exactly blockSize bytes, zero-padding
// any unused tail.
func (lb *LeafBlock) MarshalTo(blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(lb.Records)))

	off := nodeHeaderSize
	for _, e := range lb.Records {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.LBA)
		copy(buf[off+8:off+leafEntrySize], e.Record.MarshalTo())
		off += leafEntrySize
	}
	return buf
}

// UnmarshalLeafBlock decodes a leaf previously produced by MarshalTo.
func UnmarshalLeafBlock(buf []byte, blockSize uint32) (*LeafBlock, error) {
	if uint32(len(buf)) < blockSize {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "leaf block buffer too short")
	}

	count := binary.LittleEndian.Uint32(buf[0:4])
	max := LeafBlockChildren(blockSize)
	if int(count) > max {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "leaf block child count exceeds capacity").
			WithDetail("count", count).WithDetail("max", max)
	}

	lb := &LeafBlock{Records: make([]LeafRecord, 0, count)}
	off := nodeHeaderSize
	for i := uint32(0); i < count; i++ {
		lba := binary.LittleEndian.Uint64(buf[off : off+8])
		rec, err := record.Unmarshal(buf[off+8 : off+leafEntrySize])
		if err != nil {
			return nil, err
		}
		lb.Records = append(lb.Records, LeafRecord{LBA: lba, Record: rec})
		off += leafEntrySize
	}
	return lb, nil
}

// Find binary-searches the leaf for lba.
func (lb *LeafBlock) Find(lba uint64) (record.Record, bool) {
	lo, hi := 0, len(lb.Records)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case lb.Records[mid].LBA == lba:
			return lb.Records[mid].Record, true
		case lb.Records[mid].LBA < lba:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return record.Record{}, false
}

// IndirectRecord points at a child node (indirect or leaf) and
// records the closed LBA range of every entry reachable beneath it.
type IndirectRecord struct {
	LoLBA  uint64
	HiLBA  uint64
	Record record.Record
}

// Contains reports whether lba falls within this child's range.
func (ir IndirectRecord) Contains(lba uint64) bool {
	return lba >= ir.LoLBA && lba <= ir.HiLBA
}

// IndirectBlock is one non-leaf layer of a BIT: up to
// IndirectBlockChildren IndirectRecords whose ranges are disjoint and
// strictly increasing.
type IndirectBlock struct {
	Children []IndirectRecord
}

// MarshalTo encodes the indirect node as exactly blockSize bytes.
func (ib *IndirectBlock) MarshalTo(blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(ib.Children)))

	off := nodeHeaderSize
	for _, c := range ib.Children {
		binary.LittleEndian.PutUint64(buf[off:off+8], c.LoLBA)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], c.HiLBA)
		copy(buf[off+16:off+indirectEntrySize], c.Record.MarshalTo())
		off += indirectEntrySize
	}
	return buf
}

// UnmarshalIndirectBlock decodes an indirect node previously produced
// by MarshalTo.
func UnmarshalIndirectBlock(buf []byte, blockSize uint32) (*IndirectBlock, error) {
	if uint32(len(buf)) < blockSize {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "indirect block buffer too short")
	}

	count := binary.LittleEndian.Uint32(buf[0:4])
	max := IndirectBlockChildren(blockSize)
	if int(count) > max {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "indirect block child count exceeds capacity").
			WithDetail("count", count).WithDetail("max", max)
	}

	ib := &IndirectBlock{Children: make([]IndirectRecord, 0, count)}
	off := nodeHeaderSize
	for i := uint32(0); i < count; i++ {
		lo := binary.LittleEndian.Uint64(buf[off : off+8])
		hi := binary.LittleEndian.Uint64(buf[off+8 : off+16])
		rec, err := record.Unmarshal(buf[off+16 : off+indirectEntrySize])
		if err != nil {
			return nil, err
		}
		ib.Children = append(ib.Children, IndirectRecord{LoLBA: lo, HiLBA: hi, Record: rec})
		off += indirectEntrySize
	}
	return ib, nil
}

// Find binary-searches the indirect node for the unique child whose
// range contains lba.
func (ib *IndirectBlock) Find(lba uint64) (IndirectRecord, bool) {
	lo, hi := 0, len(ib.Children)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := ib.Children[mid]
		switch {
		case c.Contains(lba):
			return c, true
		case lba < c.LoLBA:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return IndirectRecord{}, false
}
