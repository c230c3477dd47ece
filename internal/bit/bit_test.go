package bit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/crypto"
	"github.com/nilotpal-labs/sworndisk/internal/lrucache"
	"github.com/nilotpal-labs/sworndisk/internal/memtable"
	"github.com/nilotpal-labs/sworndisk/internal/record"
	"github.com/nilotpal-labs/sworndisk/internal/segment"
)

const testBlockSize = 512

type noCycleAllocator struct{}

func (noCycleAllocator) CycleSegment() (uint, uint64, error) {
	panic("test segment should never fill")
}

func newTestWriter(t *testing.T) (*segment.IndexSegmentWriter, *blockdev.Device) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.img")
	dev, err := blockdev.Open(&blockdev.Config{Path: path, Create: true, Size: 16 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	w := segment.NewIndexSegmentWriter(&segment.IndexWriterConfig{
		StartHBA:      0,
		BlockSize:     testBlockSize,
		SectorSize:    testBlockSize,
		SegmentBlocks: 4096,
		Device:        dev,
		Allocator:     noCycleAllocator{},
	})
	return w, dev
}

func newTestReader(dev *blockdev.Device) *Reader {
	leafCache, _ := lrucache.New[*LeafBlock](64)
	indirectCache, _ := lrucache.New[*IndirectBlock](64)
	return NewReader(dev, testBlockSize, leafCache, indirectCache)
}

func fakeRecord(hba uint64) record.Record {
	key, _ := crypto.NewKey()
	nonce, _ := crypto.NewNonce()
	return record.Record{HBA: hba, Key: key, Nonce: nonce, MAC: crypto.MAC{}}
}

func TestLeafBlockRoundTrip(t *testing.T) {
	lb := &LeafBlock{Records: []LeafRecord{
		{LBA: 1, Record: fakeRecord(10)},
		{LBA: 2, Record: fakeRecord(20)},
	}}
	buf := lb.MarshalTo(testBlockSize)
	got, err := UnmarshalLeafBlock(buf, testBlockSize)
	require.NoError(t, err)
	require.Equal(t, lb.Records, got.Records)
}

func TestIndirectBlockRoundTrip(t *testing.T) {
	ib := &IndirectBlock{Children: []IndirectRecord{
		{LoLBA: 0, HiLBA: 9, Record: fakeRecord(100)},
		{LoLBA: 10, HiLBA: 19, Record: fakeRecord(200)},
	}}
	buf := ib.MarshalTo(testBlockSize)
	got, err := UnmarshalIndirectBlock(buf, testBlockSize)
	require.NoError(t, err)
	require.Equal(t, ib.Children, got.Children)
}

func TestBuildAndFindRecord(t *testing.T) {
	writer, dev := newTestWriter(t)
	reader := newTestReader(dev)

	mt := memtable.New()
	const n = 300
	for lba := uint64(0); lba < n; lba++ {
		mt.Insert(lba, fakeRecord(lba*8))
	}

	b, err := Build(mt, writer, testBlockSize, 5)
	require.NoError(t, err)
	require.Equal(t, n, b.Size)

	for lba := uint64(0); lba < n; lba++ {
		rec, ok, err := reader.FindRecord(b, lba)
		require.NoError(t, err)
		require.True(t, ok, "lba %d should be found", lba)
		require.Equal(t, lba*8, rec.HBA)
	}

	_, ok, err := reader.FindRecord(b, n+1000)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildOrdersLeavesStrictlyIncreasing(t *testing.T) {
	writer, dev := newTestWriter(t)
	reader := newTestReader(dev)

	mt := memtable.New()
	for _, lba := range []uint64{50, 10, 30, 20, 40} {
		mt.Insert(lba, fakeRecord(lba))
	}

	b, err := Build(mt, writer, testBlockSize, 5)
	require.NoError(t, err)

	recs, err := flatten(reader, b)
	require.NoError(t, err)

	for i := 1; i < len(recs); i++ {
		require.Less(t, recs[i-1].LBA, recs[i].LBA)
	}
}

func TestCompactNewestWinsOnTie(t *testing.T) {
	writer, dev := newTestWriter(t)
	reader := newTestReader(dev)

	mtOld := memtable.New()
	mtOld.Insert(1, fakeRecord(111))
	mtOld.Insert(2, fakeRecord(222))
	older, err := Build(mtOld, writer, testBlockSize, 5)
	require.NoError(t, err)

	mtNew := memtable.New()
	mtNew.Insert(1, fakeRecord(999)) // overlapping LBA, newer value wins
	mtNew.Insert(3, fakeRecord(333))
	newer, err := Build(mtNew, writer, testBlockSize, 5)
	require.NoError(t, err)

	merged, stats, err := Compact(reader, []*BIT{older, newer}, []uint64{1, 2}, writer, testBlockSize, 5)
	require.NoError(t, err)
	require.Equal(t, 1, stats.OrphanedBlocks)
	require.Equal(t, 3, merged.Size)

	rec, ok, err := reader.FindRecord(merged, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(999), rec.HBA)
}

func TestCatalogAddReleaseAndCompactionTrigger(t *testing.T) {
	c := NewCatalog(5)

	for i := 0; i < 3; i++ {
		id := c.NextUniqueID()
		require.NoError(t, c.AddBit(RootMeta{UniqueID: id, Level: 2, Size: 10}, 0))
	}
	require.False(t, c.IsCompactionRequired(0, 4))

	id := c.NextUniqueID()
	require.NoError(t, c.AddBit(RootMeta{UniqueID: id, Level: 2, Size: 10}, 0))
	require.True(t, c.IsCompactionRequired(0, 4))

	c.ReleaseBit(0, id)
	require.Len(t, c.Level(0), 3)
}

func TestCatalogMarshalRoundTrip(t *testing.T) {
	c := NewCatalog(3)
	id := c.NextUniqueID()
	require.NoError(t, c.AddBit(RootMeta{UniqueID: id, Record: fakeRecord(7), Level: 2, Size: 5}, 1))

	buf := c.MarshalTo()
	got, err := UnmarshalCatalog(buf)
	require.NoError(t, err)
	require.Equal(t, c.nextID, got.nextID)
	require.Equal(t, c.Level(1), got.Level(1))
}
