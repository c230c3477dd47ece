package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/ioworker"
	"github.com/nilotpal-labs/sworndisk/pkg/logger"
	"github.com/nilotpal-labs/sworndisk/pkg/options"
)

// testOptions aligns SegmentBlocks and MemtableThreshold at 4 so that
// one "one too many" write past a full segment both triggers the data
// segment's flush into the MemTable and, in the same call, pushes the
// MemTable itself over its own threshold into a new level-0 BIT.
func testOptions(t *testing.T) options.Options {
	t.Helper()
	dir := t.TempDir()

	o := options.NewDefaultOptions()
	o.DataDevicePath = filepath.Join(dir, "data.img")
	o.MetadataDevicePath = filepath.Join(dir, "meta.img")
	o.FormatMode = options.FormatForce
	o.BlockSize = 512
	o.SegmentBlocks = 4
	o.FormatDataSegments = 32
	o.FormatIndexSegments = 8
	o.MemtableThreshold = 4
	o.MaxCompactionNumber = 2
	o.LSMTreeMaxLevel = 3
	o.BITMaxLevel = 3
	o.LRUCacheSize = 64
	return o
}

func newTestEngine(t *testing.T, o options.Options) *Engine {
	t.Helper()
	e, err := New(context.Background(), &Config{Options: &o, Logger: logger.New("engine-test")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func readBio(t *testing.T, e *Engine, sector uint64, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	bio := ioworker.NewBio(blockdev.Read, sector, buf)
	require.NoError(t, e.HandleRead(bio))
	return buf
}

func writeBio(t *testing.T, e *Engine, sector uint64, data []byte) {
	t.Helper()
	bio := ioworker.NewBio(blockdev.Write, sector, data)
	require.NoError(t, e.HandleWrite(bio))
}

// writeLBA writes a full block's worth of data at the given lba.
func writeLBA(t *testing.T, e *Engine, o options.Options, lba uint64, fill byte) {
	t.Helper()
	block := make([]byte, o.BlockSize)
	for i := range block {
		block[i] = fill
	}
	blockSectors := uint64(o.BlockSize / o.SectorSize)
	writeBio(t, e, lba*blockSectors, block)
}

// fillOneGeneration writes SegmentBlocks distinct LBAs (filling one
// data segment) starting at startLBA, then one more to force that
// segment's flush into the MemTable; since SegmentBlocks ==
// MemtableThreshold, the extra write also pushes the flushed records
// straight into a new level-0 BIT. That extra write stays buffered, so
// on a later call the segment fills one write earlier and the BIT it
// produces includes the previous call's trailing LBA; every call still
// adds exactly one level-0 BIT of SegmentBlocks entries.
func fillOneGeneration(t *testing.T, e *Engine, o options.Options, startLBA uint64, fill byte) {
	t.Helper()
	for i := uint64(0); i < uint64(o.SegmentBlocks); i++ {
		writeLBA(t, e, o, startLBA+i, fill)
	}
	writeLBA(t, e, o, startLBA+uint64(o.SegmentBlocks), fill)
}

func TestFormatWriteReadRoundTrip(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	data := []byte("sworndisk-engine-roundtrip-test")
	data = append(data, make([]byte, int(o.BlockSize)-len(data))...)

	writeBio(t, e, 0, data)
	got := readBio(t, e, 0, int(o.BlockSize))
	require.Equal(t, data, got)
}

func TestReadNeverWrittenBlockIsZero(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	got := readBio(t, e, 10*uint64(o.BlockSize/o.SectorSize), int(o.BlockSize))
	require.Equal(t, make([]byte, o.BlockSize), got)
}

func TestReadReflectsLatestWrite(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	writeLBA(t, e, o, 0, 0xAA)
	writeLBA(t, e, o, 0, 0xBB)

	got := readBio(t, e, 0, int(o.BlockSize))
	want := make([]byte, o.BlockSize)
	for i := range want {
		want[i] = 0xBB
	}
	require.Equal(t, want, got)
}

func TestPartialSubBlockWritePreservesRestOfBlock(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	full := make([]byte, o.BlockSize)
	for i := range full {
		full[i] = byte(i + 1)
	}
	writeBio(t, e, 0, full)

	patch := []byte{0xFF, 0xFF}
	writeBio(t, e, 0, patch)

	got := readBio(t, e, 0, int(o.BlockSize))
	require.Equal(t, patch, got[:len(patch)])
	require.Equal(t, full[len(patch):], got[len(patch):])
}

func TestMemtableFlushesAtThreshold(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	fillOneGeneration(t, e, o, 0, 0x11)

	e.mu.RLock()
	size := e.memtable.Size()
	levelZero := e.checkpoint.Catalog.Level(0)
	e.mu.RUnlock()

	require.Equal(t, 0, size, "memtable should have been flushed once it hit the threshold")
	require.Len(t, levelZero, 1)
	require.Equal(t, int(o.SegmentBlocks), levelZero[0].Size)
}

func TestCompactionMergesLevelZeroIntoLevelOne(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	stride := uint64(o.SegmentBlocks) + 1
	for g := 0; g < o.MaxCompactionNumber; g++ {
		fillOneGeneration(t, e, o, uint64(g)*stride*2, 0x22)
	}

	e.mu.RLock()
	needsCompaction := e.checkpoint.Catalog.IsCompactionRequired(0, o.MaxCompactionNumber)
	levelZeroBefore := len(e.checkpoint.Catalog.Level(0))
	e.mu.RUnlock()
	require.True(t, needsCompaction)
	require.Equal(t, o.MaxCompactionNumber, levelZeroBefore)

	require.NoError(t, e.RunCompaction(context.Background()))

	e.mu.RLock()
	levelZero := e.checkpoint.Catalog.Level(0)
	levelOne := e.checkpoint.Catalog.Level(1)
	e.mu.RUnlock()

	require.Empty(t, levelZero)
	require.Len(t, levelOne, 1)
	require.Equal(t, int(o.SegmentBlocks)*o.MaxCompactionNumber, levelOne[0].Size)
}

func TestReadAfterCompactionStillFindsData(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	stride := uint64(o.SegmentBlocks) + 1
	fillOneGeneration(t, e, o, 0, 0x33)
	fillOneGeneration(t, e, o, stride*2, 0x33)

	require.NoError(t, e.RunCompaction(context.Background()))

	// LBA 1 was part of the first generation's flushed (and now
	// compacted) BIT, not the still-buffered trailing write.
	got := readBio(t, e, 1*uint64(o.BlockSize/o.SectorSize), int(o.BlockSize))
	want := make([]byte, o.BlockSize)
	for i := range want {
		want[i] = 0x33
	}
	require.Equal(t, want, got)
}

func TestCloseAndReopenPreservesData(t *testing.T) {
	o := testOptions(t)
	e := newTestEngine(t, o)

	writeLBA(t, e, o, 42, 0x77)
	require.NoError(t, e.Close())

	o.FormatMode = options.FormatNone
	e2, err := New(context.Background(), &Config{Options: &o, Logger: logger.New("engine-test-reopen")})
	require.NoError(t, err)
	defer e2.Close()

	got := readBio(t, e2, 42*uint64(o.BlockSize/o.SectorSize), int(o.BlockSize))
	want := make([]byte, o.BlockSize)
	for i := range want {
		want[i] = 0x77
	}
	require.Equal(t, want, got)
}
