package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/bit"
)

func bitRootMeta(id uint64) bit.RootMeta {
	return bit.RootMeta{UniqueID: id, Level: 0, Size: 1}
}

func testConfig() *Config {
	return &Config{
		NrDataSegments:  4,
		NrIndexSegments: 4,
		SegmentBlocks:   8,
		BITMaxLevels:    5,
	}
}

func TestNewReservesSegmentZero(t *testing.T) {
	cp := New(testConfig())
	require.True(t, cp.DataSVT.IsAllocated(0))
	require.True(t, cp.IndexSVT.IsAllocated(0))
	require.Equal(t, uint(1), cp.CurrentDataSegment)
}

func TestDataAllocatorAllocBlockAndCycle(t *testing.T) {
	cp := New(testConfig())
	alloc := NewDataAllocator(cp, func(idx uint) uint64 { return uint64(idx) * 1000 })

	blk, err := alloc.AllocBlock(1)
	require.NoError(t, err)
	require.Equal(t, uint(0), blk)

	idx, hba, err := alloc.CycleSegment()
	require.NoError(t, err)
	require.Equal(t, uint(2), idx)
	require.Equal(t, uint64(2000), hba)
	require.Equal(t, uint(2), cp.CurrentDataSegment)
}

func TestIndexAllocatorCycle(t *testing.T) {
	cp := New(testConfig())
	alloc := NewIndexAllocator(cp, func(idx uint) uint64 { return uint64(idx) * 500 })

	idx, hba, err := alloc.CycleSegment()
	require.NoError(t, err)
	require.Equal(t, uint(1), idx)
	require.Equal(t, uint64(500), hba)
}

func TestCheckpointMarshalRoundTrip(t *testing.T) {
	cp := New(testConfig())
	alloc := NewDataAllocator(cp, func(idx uint) uint64 { return uint64(idx) })
	_, err := alloc.AllocBlock(42)
	require.NoError(t, err)

	id := cp.Catalog.NextUniqueID()
	require.NoError(t, cp.Catalog.AddBit(bitRootMeta(id), 0))

	hdr, body := cp.MarshalTo(512)

	got, err := Unmarshal(hdr, body, testConfig().NrDataSegments, testConfig().NrIndexSegments, testConfig().SegmentBlocks)
	require.NoError(t, err)

	require.Equal(t, cp.CurrentDataSegment, got.CurrentDataSegment)
	require.Equal(t, cp.DataSVT.MarshalTo(), got.DataSVT.MarshalTo())
	require.Equal(t, cp.IndexSVT.MarshalTo(), got.IndexSVT.MarshalTo())
	require.Len(t, got.DST, len(cp.DST))
	require.Equal(t, cp.DST[1].UsedCount(), got.DST[1].UsedCount())
	require.Equal(t, cp.Catalog.Level(0), got.Catalog.Level(0))
}

func TestOrphanCountReflectsDeadDSTEntries(t *testing.T) {
	cp := New(testConfig())
	alloc := NewDataAllocator(cp, func(idx uint) uint64 { return uint64(idx) })
	_, err := alloc.AllocBlock(1)
	require.NoError(t, err)
	_, err = alloc.AllocBlock(1)
	require.NoError(t, err)

	require.Equal(t, 2, cp.OrphanCount())

	id := cp.Catalog.NextUniqueID()
	require.NoError(t, cp.Catalog.AddBit(bitRootMeta(id), 0))

	require.Equal(t, 1, cp.OrphanCount())
}
