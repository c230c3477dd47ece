package engine

import "github.com/nilotpal-labs/sworndisk/internal/superblock"

// geometry derives every byte/sector offset the engine needs from a
// superblock and the fixed sector size, so construction and the read
// and write paths share one source of truth for addressing.
type geometry struct {
	sb         *superblock.Superblock
	sectorSize uint32
}

func (g geometry) segmentSectors() uint64 {
	return uint64(g.sb.SegmentSize) / uint64(g.sectorSize)
}

// dataSegmentHBA returns the starting sector of data segment idx on
// the data device.
func (g geometry) dataSegmentHBA(startSector uint64, idx uint) uint64 {
	return startSector + uint64(idx)*g.segmentSectors()
}

// indexSegmentHBA returns the starting sector of index segment idx
// within the metadata device's index region.
func (g geometry) indexSegmentHBA(idx uint) uint64 {
	return g.sb.IndexRegionOffset/uint64(g.sectorSize) + uint64(idx)*g.segmentSectors()
}

// checkpointSector is where the checkpoint header sector begins.
func (g geometry) checkpointSector() uint64 {
	return g.sb.CheckpointRegionOffset / uint64(g.sectorSize)
}
