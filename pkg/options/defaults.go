package options

import "time"

// Default engine geometry and thresholds, matching the fixed constants
// the on-disk format is defined in terms of.
const (
	// DefaultBlockSize is the unit of logical and physical addressing:
	// one AEAD-authenticated block.
	DefaultBlockSize uint32 = 4096

	// DefaultSectorSize is the backing-device addressing granularity.
	DefaultSectorSize uint32 = 512

	// DefaultSegmentBlocks is the number of blocks per data/index
	// segment (4 MiB segments at the default block size).
	DefaultSegmentBlocks uint32 = 1024

	// DefaultFormatDataSegments is how many data segments a format
	// call allocates absent an explicit override.
	DefaultFormatDataSegments uint32 = 16

	// DefaultFormatIndexSegments is how many index segments a format
	// call reserves absent an explicit override.
	DefaultFormatIndexSegments uint32 = 4

	// DefaultMemtableThreshold is the number of distinct LBAs the
	// MemTable holds before it is flushed to a new level-0 BIT.
	DefaultMemtableThreshold int = 65536

	// DefaultLRUCacheSize bounds each of the two BIT node caches.
	DefaultLRUCacheSize int = 4096

	// DefaultMaxCompactionNumber is how many BITs must accumulate at a
	// level before compaction of that level is scheduled.
	DefaultMaxCompactionNumber int = 4

	// DefaultMaxWorkers bounds the read/write worker pool.
	DefaultMaxWorkers int = 5

	// DefaultBITMaxLevel bounds a single BIT's tree depth.
	DefaultBITMaxLevel int = 5

	// DefaultLSMTreeMaxLevel bounds the BIT catalog's level count.
	DefaultLSMTreeMaxLevel int = 5

	// DefaultCheckpointInterval of zero disables periodic checkpoint
	// persistence; the checkpoint is then only made durable at clean
	// shutdown.
	DefaultCheckpointInterval time.Duration = 0
)

// DefaultFormatMode leaves an existing engine untouched at mount.
var DefaultFormatMode = FormatNone

// NewDefaultOptions returns an Options populated with every default
// above; device paths are left empty and must be supplied by a caller
// via WithDataDevice/WithMetadataDevice.
func NewDefaultOptions() Options {
	return Options{
		FormatMode:          DefaultFormatMode,
		StartSector:         0,
		BlockSize:           DefaultBlockSize,
		SectorSize:          DefaultSectorSize,
		SegmentBlocks:       DefaultSegmentBlocks,
		FormatDataSegments:  DefaultFormatDataSegments,
		FormatIndexSegments: DefaultFormatIndexSegments,
		MemtableThreshold:   DefaultMemtableThreshold,
		LRUCacheSize:        DefaultLRUCacheSize,
		MaxCompactionNumber: DefaultMaxCompactionNumber,
		MaxWorkers:          DefaultMaxWorkers,
		BITMaxLevel:         DefaultBITMaxLevel,
		LSMTreeMaxLevel:     DefaultLSMTreeMaxLevel,
		CheckpointInterval:  DefaultCheckpointInterval,
	}
}
