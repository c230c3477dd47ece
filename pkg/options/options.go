// Package options provides data structures and functions for configuring
// the block-storage engine. It defines the parameters that control
// backing-device paths, on-disk geometry, and the thresholds that drive
// flush, compaction, and cache behavior.
package options

import (
	"strings"
	"time"
)

// FormatMode governs whether Open initializes fresh on-disk structures
// before mounting, mirroring the three-way format directive accepted
// at mount time: format unconditionally, format only when no valid
// superblock is found, or never format.
type FormatMode string

const (
	// FormatTrue formats only if no valid superblock is found on the
	// metadata device.
	FormatTrue FormatMode = "true"

	// FormatForce formats unconditionally, discarding any existing
	// on-disk state.
	FormatForce FormatMode = "force"

	// FormatNone never formats; Open fails if no valid superblock
	// exists.
	FormatNone FormatMode = "none"
)

// Options defines the configuration parameters for the engine. It
// controls which backing files are mounted, the block/segment geometry
// baked into the on-disk format at format time, and the runtime
// thresholds that govern flush, compaction, and caching.
type Options struct {
	// DataDevicePath is the backing file holding encrypted user data,
	// organized into data segments.
	DataDevicePath string `json:"dataDevicePath"`

	// MetadataDevicePath is the backing file holding the superblock,
	// checkpoint, and index segments (BITs).
	MetadataDevicePath string `json:"metadataDevicePath"`

	// FormatMode controls whether Open formats the devices before
	// mounting.
	FormatMode FormatMode `json:"formatMode"`

	// StartSector is the sector offset on the data device at which
	// the logical block address space begins.
	StartSector uint64 `json:"startSector"`

	// BlockSize is the unit of logical and physical block addressing,
	// in bytes. Fixed at format time.
	BlockSize uint32 `json:"blockSize"`

	// SectorSize is the backing-device addressing granularity, in
	// bytes. Fixed at format time.
	SectorSize uint32 `json:"sectorSize"`

	// SegmentBlocks is the number of blocks per data or index segment.
	// Fixed at format time.
	SegmentBlocks uint32 `json:"segmentBlocks"`

	// FormatDataSegments is how many data segments a format call
	// allocates on the data device. A real block device reports its
	// own capacity; a file standing in for one does not, so format
	// needs this told to it explicitly.
	FormatDataSegments uint32 `json:"formatDataSegments"`

	// FormatIndexSegments is how many index segments a format call
	// reserves in the metadata device's index region.
	FormatIndexSegments uint32 `json:"formatIndexSegments"`

	// MemtableThreshold is the number of distinct LBAs the MemTable
	// accumulates before it is flushed into a new level-0 BIT.
	MemtableThreshold int `json:"memtableThreshold"`

	// LRUCacheSize bounds each of the two BIT node caches (leaf and
	// indirect).
	LRUCacheSize int `json:"lruCacheSize"`

	// MaxCompactionNumber is how many BITs must accumulate at a level
	// before that level becomes eligible for compaction.
	MaxCompactionNumber int `json:"maxCompactionNumber"`

	// MaxWorkers bounds the concurrent read/write worker pool, not
	// counting the dedicated compaction worker.
	MaxWorkers int `json:"maxWorkers"`

	// BITMaxLevel bounds a single BIT's tree depth.
	BITMaxLevel int `json:"bitMaxLevel"`

	// LSMTreeMaxLevel bounds the number of levels in the BIT catalog.
	LSMTreeMaxLevel int `json:"lsmTreeMaxLevel"`

	// CheckpointInterval, when nonzero, persists the checkpoint on a
	// background ticker in addition to at clean shutdown.
	CheckpointInterval time.Duration `json:"checkpointInterval"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies every default value onto the Options
// struct, leaving device paths and StartSector untouched, and
// FormatMode untouched unless it is empty (it then becomes
// DefaultFormatMode), so they can be layered on by options applied
// afterward.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		defaults := NewDefaultOptions()
		o.BlockSize = defaults.BlockSize
		o.SectorSize = defaults.SectorSize
		o.SegmentBlocks = defaults.SegmentBlocks
		o.FormatDataSegments = defaults.FormatDataSegments
		o.FormatIndexSegments = defaults.FormatIndexSegments
		o.MemtableThreshold = defaults.MemtableThreshold
		o.LRUCacheSize = defaults.LRUCacheSize
		o.MaxCompactionNumber = defaults.MaxCompactionNumber
		o.MaxWorkers = defaults.MaxWorkers
		o.BITMaxLevel = defaults.BITMaxLevel
		o.LSMTreeMaxLevel = defaults.LSMTreeMaxLevel
		o.CheckpointInterval = defaults.CheckpointInterval
		if o.FormatMode == "" {
			o.FormatMode = defaults.FormatMode
		}
	}
}

// WithDataDevice sets the backing file path for the data device.
func WithDataDevice(path string) OptionFunc {
	return func(o *Options) {
		path = strings.TrimSpace(path)
		if path != "" {
			o.DataDevicePath = path
		}
	}
}

// WithMetadataDevice sets the backing file path for the metadata device.
func WithMetadataDevice(path string) OptionFunc {
	return func(o *Options) {
		path = strings.TrimSpace(path)
		if path != "" {
			o.MetadataDevicePath = path
		}
	}
}

// WithFormatMode sets whether Open formats the devices before mounting.
func WithFormatMode(mode FormatMode) OptionFunc {
	return func(o *Options) {
		switch mode {
		case FormatTrue, FormatForce, FormatNone:
			o.FormatMode = mode
		default:
			o.FormatMode = FormatNone
		}
	}
}

// WithStartSector sets the sector offset on the data device at which
// the logical address space begins.
func WithStartSector(sector uint64) OptionFunc {
	return func(o *Options) { o.StartSector = sector }
}

// WithBlockSize sets the logical/physical block size, in bytes.
func WithBlockSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size > 0 && size%o.SectorSize == 0 {
			o.BlockSize = size
		}
	}
}

// WithSegmentBlocks sets the number of blocks per segment.
func WithSegmentBlocks(blocks uint32) OptionFunc {
	return func(o *Options) {
		if blocks > 0 {
			o.SegmentBlocks = blocks
		}
	}
}

// WithFormatDataSegments sets how many data segments format allocates.
func WithFormatDataSegments(n uint32) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.FormatDataSegments = n
		}
	}
}

// WithFormatIndexSegments sets how many index segments format reserves.
func WithFormatIndexSegments(n uint32) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.FormatIndexSegments = n
		}
	}
}

// WithMemtableThreshold sets the MemTable flush threshold.
func WithMemtableThreshold(threshold int) OptionFunc {
	return func(o *Options) {
		if threshold > 0 {
			o.MemtableThreshold = threshold
		}
	}
}

// WithLRUCacheSize sets the capacity of each BIT node cache.
func WithLRUCacheSize(size int) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.LRUCacheSize = size
		}
	}
}

// WithMaxCompactionNumber sets how many BITs accumulate at a level
// before compaction becomes eligible.
func WithMaxCompactionNumber(n int) OptionFunc {
	return func(o *Options) {
		if n > 1 {
			o.MaxCompactionNumber = n
		}
	}
}

// WithMaxWorkers sets the size of the read/write worker pool.
func WithMaxWorkers(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.MaxWorkers = n
		}
	}
}

// WithBITMaxLevel sets the maximum tree depth of a single BIT.
func WithBITMaxLevel(level int) OptionFunc {
	return func(o *Options) {
		if level > 0 {
			o.BITMaxLevel = level
		}
	}
}

// WithLSMTreeMaxLevel sets the maximum number of levels in the BIT
// catalog.
func WithLSMTreeMaxLevel(level int) OptionFunc {
	return func(o *Options) {
		if level > 0 {
			o.LSMTreeMaxLevel = level
		}
	}
}

// WithCheckpointInterval sets the background checkpoint persistence
// cadence. Zero disables the background ticker.
func WithCheckpointInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval >= 0 {
			o.CheckpointInterval = interval
		}
	}
}
