// Package segment implements the write-open Data Segment buffer and
// the Index Segment append cursor: the two structures that stage
// plaintext blocks and BIT nodes respectively before they become one
// large sequential write to a backing device.
package segment

import (
	"sort"
	"time"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/crypto"
	"github.com/nilotpal-labs/sworndisk/internal/memtable"
	"github.com/nilotpal-labs/sworndisk/internal/record"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// DataSegmentAllocator is the block- and segment-level allocation
// authority the Data Segment buffer defers to: which block within the
// active segment is free, and how to cycle to a freshly allocated
// segment once the active one is full. Implemented by the checkpoint's
// DST/data-SVT without this package importing that package, breaking
// what would otherwise be an import cycle (checkpoint persists BITs,
// which are written through this package's IndexSegmentWriter).
type DataSegmentAllocator interface {
	// AllocBlock returns a free block index within the currently
	// active data segment, or NoSpace if it is full.
	AllocBlock(nowUnixNano int64) (blockIndex uint, err error)
	// CycleSegment allocates a new data segment from the data SVT and
	// returns its index and starting HBA.
	CycleSegment() (segmentIndex uint, hba uint64, err error)
}

// DataSegment is the single active, write-open data segment: a
// plaintext staging buffer holding blocks pending writeback.
type DataSegment struct {
	hba           uint64 // Starting HBA of the active segment.
	buffer        []byte
	used          int
	lbaIndexMap   map[uint64]int // LBA -> byte offset within buffer.
	blockSize     uint32
	sectorSize    uint32
	segmentBlocks uint32
	device        *blockdev.Device
	allocator     DataSegmentAllocator
	memtable      *memtable.MemTable
}

// Config carries the parameters required to construct a DataSegment.
type Config struct {
	HBA           uint64
	BlockSize     uint32
	SectorSize    uint32
	SegmentBlocks uint32
	Device        *blockdev.Device
	Allocator     DataSegmentAllocator
	MemTable      *memtable.MemTable
}

// New constructs a DataSegment bound to an already-allocated segment
// starting at hba.
func New(config *Config) *DataSegment {
	return &DataSegment{
		hba:           config.HBA,
		buffer:        make([]byte, int(config.SegmentBlocks)*int(config.BlockSize)),
		lbaIndexMap:   make(map[uint64]int),
		blockSize:     config.BlockSize,
		sectorSize:    config.SectorSize,
		segmentBlocks: config.SegmentBlocks,
		device:        config.Device,
		allocator:     config.Allocator,
		memtable:      config.MemTable,
	}
}

func (ds *DataSegment) blockSectors() uint32 { return ds.blockSize / ds.sectorSize }

// Write stages bytes at offsetInBlock within lba's block, allocating a
// new block from the active segment (flushing and cycling if full)
// when lba has never been written in this segment generation. It
// returns the block index and HBA the bytes now live at.
func (ds *DataSegment) Write(lba uint64, bytes []byte, offsetInBlock int) (blockIndex int, hba uint64, err error) {
	if offset, ok := ds.lbaIndexMap[lba]; ok {
		copy(ds.buffer[offset+offsetInBlock:offset+offsetInBlock+len(bytes)], bytes)
		idx := offset / int(ds.blockSize)
		return idx, ds.hba + uint64(idx)*uint64(ds.blockSectors()), nil
	}

	idx, allocErr := ds.allocator.AllocBlock(time.Now().UnixNano())
	if allocErr != nil {
		if flushErr := ds.Flush(); flushErr != nil {
			return 0, 0, flushErr
		}
		idx, allocErr = ds.allocator.AllocBlock(time.Now().UnixNano())
		if allocErr != nil {
			return 0, 0, allocErr
		}
	}

	offset := int(idx) * int(ds.blockSize)
	copy(ds.buffer[offset+offsetInBlock:offset+offsetInBlock+len(bytes)], bytes)
	ds.lbaIndexMap[lba] = offset
	ds.used++

	return int(idx), ds.hba + uint64(idx)*uint64(ds.blockSectors()), nil
}

// Read copies the staged block for lba into dst starting at offset,
// reporting whether lba is currently buffered.
func (ds *DataSegment) Read(lba uint64, dst []byte, offset, length int) bool {
	bufOffset, ok := ds.lbaIndexMap[lba]
	if !ok {
		return false
	}
	copy(dst, ds.buffer[bufOffset+offset:bufOffset+offset+length])
	return true
}

// Flush is an alias for the segment cycling behavior described as
// do_flush: every staged block is encrypted, recorded in the
// MemTable, written out as one sequential region, and a new active
// segment is allocated in its place.
func (ds *DataSegment) Flush() error {
	lbas := make([]uint64, 0, len(ds.lbaIndexMap))
	for lba := range ds.lbaIndexMap {
		lbas = append(lbas, lba)
	}
	sort.Slice(lbas, func(i, j int) bool { return lbas[i] < lbas[j] })

	for _, lba := range lbas {
		offset := ds.lbaIndexMap[lba]
		block := ds.buffer[offset : offset+int(ds.blockSize)]

		key, err := crypto.NewKey()
		if err != nil {
			return err
		}
		nonce, err := crypto.NewNonce()
		if err != nil {
			return err
		}
		mac, err := crypto.Encrypt(key, nonce, block)
		if err != nil {
			return err
		}

		blockIdx := offset / int(ds.blockSize)
		rec := record.Record{
			HBA:   ds.hba + uint64(blockIdx)*uint64(ds.blockSectors()),
			Key:   key,
			Nonce: nonce,
			MAC:   mac,
		}
		ds.memtable.Insert(lba, rec)
	}

	if err := ds.device.Submit(blockdev.Write, ds.hba, ds.buffer); err != nil {
		return err
	}

	_, newHBA, err := ds.allocator.CycleSegment()
	if err != nil {
		return sderrors.NewStorageError(err, sderrors.ErrorCodeNoSpace, "failed to cycle data segment")
	}

	for i := range ds.buffer {
		ds.buffer[i] = 0
	}
	clear(ds.lbaIndexMap)
	ds.used = 0
	ds.hba = newHBA

	return nil
}

// Used reports how many distinct blocks are currently staged.
func (ds *DataSegment) Used() int { return ds.used }

// HBA reports the starting sector address of the currently active
// segment.
func (ds *DataSegment) HBA() uint64 { return ds.hba }
