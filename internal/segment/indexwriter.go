package segment

import (
	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
)

// IndexSegmentAllocator supplies fresh index segments to the writer
// once the active one fills, mirroring DataSegmentAllocator but over
// the index-segment SVT.
type IndexSegmentAllocator interface {
	CycleSegment() (segmentIndex uint, hba uint64, err error)
}

// IndexSegmentWriter is the append-only cursor BIT construction and
// compaction write freshly encrypted nodes through: one block at a
// time, advancing sequentially within the active index segment and
// cycling to a new one when it fills.
type IndexSegmentWriter struct {
	cursor        uint64 // Next HBA to write a block at.
	segmentStart  uint64 // Starting HBA of the active index segment.
	blockSize     uint32
	sectorSize    uint32
	segmentBlocks uint32
	device        *blockdev.Device
	allocator     IndexSegmentAllocator
}

// IndexWriterConfig carries the parameters required to construct an
// IndexSegmentWriter.
type IndexWriterConfig struct {
	StartHBA      uint64
	BlockSize     uint32
	SectorSize    uint32
	SegmentBlocks uint32
	Device        *blockdev.Device
	Allocator     IndexSegmentAllocator
}

// NewIndexSegmentWriter constructs a writer positioned at the start of
// the given index segment.
func NewIndexSegmentWriter(config *IndexWriterConfig) *IndexSegmentWriter {
	return &IndexSegmentWriter{
		cursor:        config.StartHBA,
		segmentStart:  config.StartHBA,
		blockSize:     config.BlockSize,
		sectorSize:    config.SectorSize,
		segmentBlocks: config.SegmentBlocks,
		device:        config.Device,
		allocator:     config.Allocator,
	}
}

func (w *IndexSegmentWriter) blockSectors() uint32 { return w.blockSize / w.sectorSize }
func (w *IndexSegmentWriter) segmentSectors() uint64 {
	return uint64(w.segmentBlocks) * uint64(w.blockSectors())
}

// Append writes one already-encrypted, exactly-BlockSize-byte node to
// the next free block position and returns the HBA it was written at.
func (w *IndexSegmentWriter) Append(block []byte) (uint64, error) {
	if w.cursor >= w.segmentStart+w.segmentSectors() {
		_, newHBA, err := w.allocator.CycleSegment()
		if err != nil {
			return 0, err
		}
		w.segmentStart = newHBA
		w.cursor = newHBA
	}

	hba := w.cursor
	if err := w.device.Submit(blockdev.Write, hba, block); err != nil {
		return 0, err
	}

	w.cursor += uint64(w.blockSectors())
	return hba, nil
}

// Cursor returns the next HBA a call to Append would write at.
func (w *IndexSegmentWriter) Cursor() uint64 { return w.cursor }
