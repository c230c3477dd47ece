package superblock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
)

func openTestDevice(t *testing.T) *blockdev.Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.img")
	dev, err := blockdev.Open(&blockdev.Config{Path: path, Create: true, Size: 4 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func sampleSuperblock() *Superblock {
	return &Superblock{
		BlockSize:              4096,
		SegmentSize:            4 << 20,
		NrBlocks:               1 << 20,
		NrDataSegments:         16,
		NrIndexSegments:        4,
		IndexRegionOffset:      4 << 20,
		JournalRegionOffset:    8 << 20,
		CheckpointRegionOffset: 16 << 20,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dev := openTestDevice(t)
	want := sampleSuperblock()

	require.NoError(t, Write(dev, want))

	got, err := Read(dev)
	require.NoError(t, err)
	require.Equal(t, want.BlockSize, got.BlockSize)
	require.Equal(t, want.NrDataSegments, got.NrDataSegments)
	require.Equal(t, want.CheckpointRegionOffset, got.CheckpointRegionOffset)
}

func TestReadFallsBackToSecondCopy(t *testing.T) {
	dev := openTestDevice(t)
	want := sampleSuperblock()
	require.NoError(t, Write(dev, want))

	corrupt := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Submit(blockdev.Write, 0, corrupt))

	got, err := Read(dev)
	require.NoError(t, err)
	require.Equal(t, want.NrDataSegments, got.NrDataSegments)
}

func TestReadFailsWhenBothCopiesCorrupt(t *testing.T) {
	dev := openTestDevice(t)
	corrupt := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Submit(blockdev.Write, 0, corrupt))
	require.NoError(t, dev.Submit(blockdev.Write, 1, corrupt))

	_, err := Read(dev)
	require.Error(t, err)
}
