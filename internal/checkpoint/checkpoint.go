package checkpoint

import (
	"encoding/binary"

	"github.com/nilotpal-labs/sworndisk/internal/bit"
	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// Checkpoint is the durable snapshot of all mutable metadata: which
// segments are allocated, which blocks within each data segment are
// live, the BIT catalog, and the data segment currently being filled.
// It is mutated continuously in memory and persisted at clean shutdown
// (and optionally on a ticker; see Options.CheckpointInterval).
type Checkpoint struct {
	DataSVT  *SVT
	IndexSVT *SVT
	DST      []*DST
	Catalog  *bit.Catalog

	CurrentDataSegment uint

	segmentBlocks uint
}

// Config describes the sizes needed to allocate a fresh Checkpoint at
// format time.
type Config struct {
	NrDataSegments  uint
	NrIndexSegments uint
	SegmentBlocks   uint
	BITMaxLevels    int
}

// New builds an empty Checkpoint for a freshly formatted device: data
// segment 0 and index segment 0 are reserved, and the current data
// segment starts at 1.
func New(config *Config) *Checkpoint {
	dst := make([]*DST, config.NrDataSegments)
	for i := range dst {
		dst[i] = NewDST(config.SegmentBlocks)
	}

	dataSVT := NewSVT(config.NrDataSegments)
	current := firstNonReservedSegment(config.NrDataSegments)
	if current != 0 {
		dataSVT.bits.Set(current)
	}

	return &Checkpoint{
		DataSVT:            dataSVT,
		IndexSVT:           NewSVT(config.NrIndexSegments),
		DST:                dst,
		Catalog:            bit.NewCatalog(config.BITMaxLevels),
		CurrentDataSegment: current,
		segmentBlocks:      config.SegmentBlocks,
	}
}

func firstNonReservedSegment(nrDataSegments uint) uint {
	if nrDataSegments > 1 {
		return 1
	}
	return 0
}

// SegmentHBA converts a segment index into the starting HBA of that
// segment, for whichever device (data or index) an allocator addresses.
type SegmentHBA func(segmentIndex uint) uint64

// DataAllocator adapts a Checkpoint's data SVT/DST into
// segment.DataSegmentAllocator.
type DataAllocator struct {
	cp  *Checkpoint
	hba SegmentHBA
}

// NewDataAllocator builds the segment.DataSegmentAllocator the engine
// wires into segment.NewDataSegment.
func NewDataAllocator(cp *Checkpoint, hba SegmentHBA) *DataAllocator {
	return &DataAllocator{cp: cp, hba: hba}
}

// AllocBlock allocates the next free block within the current data
// segment.
func (a *DataAllocator) AllocBlock(nowUnixNano int64) (uint, error) {
	return a.cp.DST[a.cp.CurrentDataSegment].AllocBlock(nowUnixNano)
}

// CycleSegment allocates a fresh data segment from the data SVT and
// makes it current.
func (a *DataAllocator) CycleSegment() (uint, uint64, error) {
	idx, err := a.cp.DataSVT.Alloc()
	if err != nil {
		return 0, 0, err
	}
	a.cp.CurrentDataSegment = idx
	return idx, a.hba(idx), nil
}

// IndexAllocator adapts a Checkpoint's index SVT into
// segment.IndexSegmentAllocator.
type IndexAllocator struct {
	cp  *Checkpoint
	hba SegmentHBA
}

// NewIndexAllocator builds the segment.IndexSegmentAllocator the
// engine wires into segment.NewIndexSegmentWriter.
func NewIndexAllocator(cp *Checkpoint, hba SegmentHBA) *IndexAllocator {
	return &IndexAllocator{cp: cp, hba: hba}
}

// CycleSegment allocates a fresh index segment from the index SVT.
func (a *IndexAllocator) CycleSegment() (uint, uint64, error) {
	idx, err := a.cp.IndexSVT.Alloc()
	if err != nil {
		return 0, 0, err
	}
	return idx, a.hba(idx), nil
}

// OrphanCount reports the number of physical data blocks whose DST
// slot is marked used but which no live BIT entry (across every
// catalog level) can still reference. Compaction's Stats.OrphanedBlocks
// tracks orphans produced by one merge; this is the standing total a
// caller can poll, since the DST itself is never swept.
func (c *Checkpoint) OrphanCount() int {
	total := 0
	for _, d := range c.DST {
		total += int(d.UsedCount())
	}

	live := 0
	for level := 0; level < c.Catalog.MaxLevels(); level++ {
		for _, meta := range c.Catalog.Level(level) {
			live += meta.Size
		}
	}

	orphans := total - live
	if orphans < 0 {
		return 0
	}
	return orphans
}

// header mirrors spec's CheckpointHelper: the lengths needed to slice
// the body back apart on read.
type header struct {
	DataSVTLen     uint64
	IndexSVTLen    uint64
	DSTEntrySize   uint64
	DSTCount       uint64
	BITCategoryLen uint64
	SectorNumber   uint64
}

const headerSize = 48

func (h *header) marshalTo() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.DataSVTLen)
	binary.LittleEndian.PutUint64(buf[8:16], h.IndexSVTLen)
	binary.LittleEndian.PutUint64(buf[16:24], h.DSTEntrySize)
	binary.LittleEndian.PutUint64(buf[24:32], h.DSTCount)
	binary.LittleEndian.PutUint64(buf[32:40], h.BITCategoryLen)
	binary.LittleEndian.PutUint64(buf[40:48], h.SectorNumber)
	return buf
}

func unmarshalHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "checkpoint header truncated")
	}
	return &header{
		DataSVTLen:     binary.LittleEndian.Uint64(buf[0:8]),
		IndexSVTLen:    binary.LittleEndian.Uint64(buf[8:16]),
		DSTEntrySize:   binary.LittleEndian.Uint64(buf[16:24]),
		DSTCount:       binary.LittleEndian.Uint64(buf[24:32]),
		BITCategoryLen: binary.LittleEndian.Uint64(buf[32:40]),
		SectorNumber:   binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}

// MarshalTo encodes the checkpoint body: [current_data_segment:8][data_svt][index_svt][dst...][bit_category],
// zero-padded to a whole number of sectorSize-byte sectors. It returns
// the header sector and the body sectors separately, matching the
// on-device layout of one header sector followed by sector_number body
// sectors.
func (c *Checkpoint) MarshalTo(sectorSize uint32) (headerSector []byte, bodySectors []byte) {
	dataSVT := c.DataSVT.MarshalTo()
	indexSVT := c.IndexSVT.MarshalTo()
	catalog := c.Catalog.MarshalTo()

	var dstBuf []byte
	dstEntrySize := uint64(0)
	for _, d := range c.DST {
		entry := d.MarshalTo()
		if dstEntrySize == 0 {
			dstEntrySize = uint64(len(entry))
		}
		dstBuf = append(dstBuf, entry...)
	}

	bodyLen := 8 + len(dataSVT) + len(indexSVT) + len(dstBuf) + len(catalog)
	sectorNumber := (bodyLen + int(sectorSize) - 1) / int(sectorSize)
	padded := make([]byte, sectorNumber*int(sectorSize))

	off := 0
	binary.LittleEndian.PutUint64(padded[off:off+8], uint64(c.CurrentDataSegment))
	off += 8
	off += copy(padded[off:], dataSVT)
	off += copy(padded[off:], indexSVT)
	off += copy(padded[off:], dstBuf)
	off += copy(padded[off:], catalog)

	h := &header{
		DataSVTLen:     uint64(len(dataSVT)),
		IndexSVTLen:    uint64(len(indexSVT)),
		DSTEntrySize:   dstEntrySize,
		DSTCount:       uint64(len(c.DST)),
		BITCategoryLen: uint64(len(catalog)),
		SectorNumber:   uint64(sectorNumber),
	}

	hdrBuf := make([]byte, sectorSize)
	copy(hdrBuf, h.marshalTo())

	return hdrBuf, padded
}

// Unmarshal decodes a checkpoint previously produced by MarshalTo,
// given the header sector and the following body sectors.
func Unmarshal(headerSector, bodySectors []byte, nrDataSegments, nrIndexSegments, segmentBlocks uint) (*Checkpoint, error) {
	h, err := unmarshalHeader(headerSector)
	if err != nil {
		return nil, err
	}

	if len(bodySectors) < 8 {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "checkpoint body truncated")
	}

	off := 0
	currentDataSegment := binary.LittleEndian.Uint64(bodySectors[off : off+8])
	off += 8

	if uint64(len(bodySectors)) < uint64(off)+h.DataSVTLen {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "checkpoint data svt truncated")
	}
	dataSVT, err := UnmarshalSVT(bodySectors[off:off+int(h.DataSVTLen)], nrDataSegments)
	if err != nil {
		return nil, err
	}
	off += int(h.DataSVTLen)

	if uint64(len(bodySectors)) < uint64(off)+h.IndexSVTLen {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "checkpoint index svt truncated")
	}
	indexSVT, err := UnmarshalSVT(bodySectors[off:off+int(h.IndexSVTLen)], nrIndexSegments)
	if err != nil {
		return nil, err
	}
	off += int(h.IndexSVTLen)

	dst := make([]*DST, 0, h.DSTCount)
	for i := uint64(0); i < h.DSTCount; i++ {
		d, n, err := UnmarshalDST(bodySectors[off:], segmentBlocks)
		if err != nil {
			return nil, err
		}
		dst = append(dst, d)
		off += n
	}

	if uint64(len(bodySectors)) < uint64(off)+h.BITCategoryLen {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "checkpoint bit category truncated")
	}
	catalog, err := bit.UnmarshalCatalog(bodySectors[off : off+int(h.BITCategoryLen)])
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		DataSVT:            dataSVT,
		IndexSVT:           indexSVT,
		DST:                dst,
		Catalog:            catalog,
		CurrentDataSegment: uint(currentDataSegment),
		segmentBlocks:      segmentBlocks,
	}, nil
}

// WriteTo persists the checkpoint at startSector on dev: the header
// sector followed immediately by the body sectors, per §4.8's layout.
func (c *Checkpoint) WriteTo(dev *blockdev.Device, startSector uint64, sectorSize uint32) error {
	hdr, body := c.MarshalTo(sectorSize)
	if err := dev.Submit(blockdev.Write, startSector, hdr); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	bodyStart := startSector + uint64(len(hdr))/uint64(sectorSize)
	return dev.Submit(blockdev.Write, bodyStart, body)
}

// ReadFrom loads a checkpoint previously persisted by WriteTo: it
// reads the header sector first to learn the body's sector count,
// then reads and decodes the body.
func ReadFrom(dev *blockdev.Device, startSector uint64, sectorSize uint32, nrDataSegments, nrIndexSegments, segmentBlocks uint) (*Checkpoint, error) {
	hdr := make([]byte, sectorSize)
	if err := dev.Submit(blockdev.Read, startSector, hdr); err != nil {
		return nil, err
	}

	h, err := unmarshalHeader(hdr)
	if err != nil {
		return nil, err
	}

	body := make([]byte, h.SectorNumber*uint64(sectorSize))
	if len(body) > 0 {
		if err := dev.Submit(blockdev.Read, startSector+1, body); err != nil {
			return nil, err
		}
	}

	return Unmarshal(hdr, body, nrDataSegments, nrIndexSegments, segmentBlocks)
}
