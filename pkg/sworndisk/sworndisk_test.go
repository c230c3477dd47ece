package sworndisk

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/checkpoint"
	"github.com/nilotpal-labs/sworndisk/internal/superblock"
	"github.com/nilotpal-labs/sworndisk/pkg/options"
)

func testDevicePaths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "data.img"), filepath.Join(dir, "meta.img")
}

func TestOpenFormatWriteReadClose(t *testing.T) {
	dataPath, metaPath := testDevicePaths(t)

	dev, err := Open(context.Background(), "sworndisk-test",
		options.WithDataDevice(dataPath),
		options.WithMetadataDevice(metaPath),
		options.WithFormatMode(options.FormatForce),
		options.WithBlockSize(512),
		options.WithSegmentBlocks(4),
		options.WithFormatDataSegments(8),
		options.WithFormatIndexSegments(4),
		options.WithMemtableThreshold(4),
		options.WithMaxWorkers(2),
	)
	require.NoError(t, err)

	block := make([]byte, 512)
	for i := range block {
		block[i] = 0x5A
	}
	require.NoError(t, dev.WriteAt(0, block))

	got := make([]byte, 512)
	require.NoError(t, dev.ReadAt(0, got))
	require.Equal(t, block, got)

	require.NoError(t, dev.Close())
}

func TestOpenWithoutFormatFailsOnFreshDevice(t *testing.T) {
	dataPath, metaPath := testDevicePaths(t)

	_, err := Open(context.Background(), "sworndisk-test",
		options.WithDataDevice(dataPath),
		options.WithMetadataDevice(metaPath),
		options.WithFormatMode(options.FormatNone),
	)
	require.Error(t, err)
}

func TestReopenAfterCloseSeesPriorWrites(t *testing.T) {
	dataPath, metaPath := testDevicePaths(t)

	dev, err := Open(context.Background(), "sworndisk-test",
		options.WithDataDevice(dataPath),
		options.WithMetadataDevice(metaPath),
		options.WithFormatMode(options.FormatForce),
		options.WithBlockSize(512),
		options.WithSegmentBlocks(4),
		options.WithFormatDataSegments(8),
		options.WithFormatIndexSegments(4),
		options.WithMemtableThreshold(4),
	)
	require.NoError(t, err)

	block := make([]byte, 512)
	for i := range block {
		block[i] = 0x7E
	}
	require.NoError(t, dev.WriteAt(0, block))
	require.NoError(t, dev.Close())

	dev2, err := Open(context.Background(), "sworndisk-test",
		options.WithDataDevice(dataPath),
		options.WithMetadataDevice(metaPath),
		options.WithFormatMode(options.FormatNone),
	)
	require.NoError(t, err)
	defer dev2.Close()

	got := make([]byte, 512)
	require.NoError(t, dev2.ReadAt(0, got))
	require.Equal(t, block, got)
}

func TestCheckpointTickerPersistsInBackground(t *testing.T) {
	dataPath, metaPath := testDevicePaths(t)

	dev, err := Open(context.Background(), "sworndisk-test",
		options.WithDataDevice(dataPath),
		options.WithMetadataDevice(metaPath),
		options.WithFormatMode(options.FormatForce),
		options.WithBlockSize(512),
		options.WithSegmentBlocks(4),
		options.WithFormatDataSegments(8),
		options.WithFormatIndexSegments(4),
		options.WithCheckpointInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer dev.Close()

	block := make([]byte, 512)
	require.NoError(t, dev.WriteAt(0, block))

	// The write marks one block used in the current data segment's DST;
	// only a background persist puts that on disk while the device is
	// still open.
	require.Eventually(t, func() bool {
		meta, err := blockdev.Open(&blockdev.Config{Path: metaPath})
		if err != nil {
			return false
		}
		defer meta.Close()
		sb, err := superblock.Read(meta)
		if err != nil {
			return false
		}
		cp, err := checkpoint.ReadFrom(meta, sb.CheckpointRegionOffset/blockdev.SectorSize, blockdev.SectorSize,
			uint(sb.NrDataSegments), uint(sb.NrIndexSegments), uint(sb.SegmentSize/sb.BlockSize))
		if err != nil {
			return false
		}
		return cp.DST[cp.CurrentDataSegment].UsedCount() == 1
	}, time.Second, 20*time.Millisecond)
}
