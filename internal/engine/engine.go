// Package engine ties together every subsystem into the mounted
// device: the superblock, the checkpoint's allocation state, the
// MemTable, the active data segment, the index segment writer, and the
// BIT reader's caches. It implements ioworker.Handler, so a Pool of
// read/write/compaction workers drives it directly.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nilotpal-labs/sworndisk/internal/bit"
	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/checkpoint"
	"github.com/nilotpal-labs/sworndisk/internal/ioworker"
	"github.com/nilotpal-labs/sworndisk/internal/lrucache"
	"github.com/nilotpal-labs/sworndisk/internal/memtable"
	"github.com/nilotpal-labs/sworndisk/internal/segment"
	"github.com/nilotpal-labs/sworndisk/internal/superblock"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
	"github.com/nilotpal-labs/sworndisk/pkg/options"
)

// ErrEngineClosed is returned when attempting to perform an operation
// against an already-closed Engine.
var ErrEngineClosed = sderrors.NewStorageError(nil, sderrors.ErrorCodeIO, "operation failed: engine is closed")

// Engine is the mounted device. A single sync.RWMutex guards every
// piece of mutable metadata it holds (checkpoint, MemTable, active
// data segment, index writer, BIT reader caches). Reads hold it shared
// and writes, flushes, compaction and Close hold it exclusively, in
// both cases across the data and metadata device I/O they issue. This
// is distinct from, and coarser than, the ioworker package's own
// per-queue lock.
type Engine struct {
	opts *options.Options
	log  *zap.SugaredLogger
	geo  geometry

	dataDevice     *blockdev.Device
	metadataDevice *blockdev.Device

	mu          sync.RWMutex
	superblock  *superblock.Superblock
	checkpoint  *checkpoint.Checkpoint
	memtable    *memtable.MemTable
	dataSegment *segment.DataSegment
	indexWriter *segment.IndexSegmentWriter
	reader      *bit.Reader

	pool *ioworker.Pool

	closed atomic.Bool
}

// Config carries everything New needs to mount or format a device.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New opens (and, per Options.FormatMode, formats) the data and
// metadata devices and returns a ready-to-serve Engine.
func New(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil || config.Options == nil {
		return nil, sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "engine configuration requires options",
		).WithField("options").WithRule("required")
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts := config.Options

	dataDevice, metadataDevice, err := openDevices(opts, log)
	if err != nil {
		return nil, err
	}

	sb, shouldFormat, err := resolveFormatMode(metadataDevice, opts)
	if err != nil {
		dataDevice.Close()
		metadataDevice.Close()
		return nil, err
	}

	e := &Engine{
		opts:           opts,
		log:            log,
		dataDevice:     dataDevice,
		metadataDevice: metadataDevice,
	}

	if shouldFormat {
		log.Infow("formatting sworndisk device",
			"dataDevicePath", opts.DataDevicePath, "metadataDevicePath", opts.MetadataDevicePath)
		if err := e.format(); err != nil {
			dataDevice.Close()
			metadataDevice.Close()
			return nil, err
		}
	} else {
		log.Infow("mounting existing sworndisk device",
			"dataDevicePath", opts.DataDevicePath, "metadataDevicePath", opts.MetadataDevicePath)
		if err := e.mount(sb); err != nil {
			dataDevice.Close()
			metadataDevice.Close()
			return nil, err
		}
	}

	return e, nil
}

func openDevices(opts *options.Options, log *zap.SugaredLogger) (data, meta *blockdev.Device, err error) {
	create := opts.FormatMode != options.FormatNone

	data, err = blockdev.Open(&blockdev.Config{Path: opts.DataDevicePath, Create: create, Logger: log})
	if err != nil {
		return nil, nil, err
	}

	meta, err = blockdev.Open(&blockdev.Config{Path: opts.MetadataDevicePath, Create: create, Logger: log})
	if err != nil {
		data.Close()
		return nil, nil, err
	}

	return data, meta, nil
}

// resolveFormatMode applies the three-way FormatMode directive: force
// always formats, true formats only when no valid superblock is
// found, none never formats and fails if none exists.
func resolveFormatMode(metadataDevice *blockdev.Device, opts *options.Options) (sb *superblock.Superblock, shouldFormat bool, err error) {
	if opts.FormatMode == options.FormatForce {
		return nil, true, nil
	}

	sb, readErr := superblock.Read(metadataDevice)
	if readErr == nil {
		return sb, false, nil
	}

	if opts.FormatMode == options.FormatTrue {
		return nil, true, nil
	}

	return nil, false, readErr
}

// regionLayout computes every on-disk region's byte offset on the
// metadata device, per §4.2's ordering: superblock, index region,
// journal region (reserved, unused), checkpoint region.
func regionLayout(segmentSize uint32, nrIndexSegments uint32) (indexOffset, journalOffset, checkpointOffset uint64) {
	indexOffset = uint64(segmentSize)
	journalOffset = indexOffset + uint64(nrIndexSegments)*uint64(segmentSize)
	checkpointOffset = journalOffset
	return indexOffset, journalOffset, checkpointOffset
}

func (e *Engine) format() error {
	opts := e.opts
	segmentSize := opts.SegmentBlocks * opts.BlockSize

	indexOffset, journalOffset, checkpointOffset := regionLayout(segmentSize, opts.FormatIndexSegments)

	sb := &superblock.Superblock{
		BlockSize:              opts.BlockSize,
		SegmentSize:            segmentSize,
		NrBlocks:               uint64(opts.FormatDataSegments) * uint64(opts.SegmentBlocks),
		NrDataSegments:         opts.FormatDataSegments,
		NrIndexSegments:        opts.FormatIndexSegments,
		IndexRegionOffset:      indexOffset,
		JournalRegionOffset:    journalOffset,
		CheckpointRegionOffset: checkpointOffset,
	}

	if err := superblock.Write(e.metadataDevice, sb); err != nil {
		return err
	}

	cp := checkpoint.New(&checkpoint.Config{
		NrDataSegments:  uint(opts.FormatDataSegments),
		NrIndexSegments: uint(opts.FormatIndexSegments),
		SegmentBlocks:   uint(opts.SegmentBlocks),
		BITMaxLevels:    opts.LSMTreeMaxLevel,
	})

	e.superblock = sb
	e.geo = geometry{sb: sb, sectorSize: opts.SectorSize}
	e.checkpoint = cp
	e.memtable = memtable.New()

	if err := e.wireBuffers(); err != nil {
		return err
	}

	return e.persistCheckpoint()
}

func (e *Engine) mount(sb *superblock.Superblock) error {
	// Block and segment geometry are fixed at format time: the
	// superblock's values replace whatever the caller's options carry.
	opts := *e.opts
	opts.BlockSize = sb.BlockSize
	opts.SegmentBlocks = sb.SegmentSize / sb.BlockSize
	e.opts = &opts

	cp, err := checkpoint.ReadFrom(
		e.metadataDevice, e.geoFor(sb).checkpointSector(), opts.SectorSize,
		uint(sb.NrDataSegments), uint(sb.NrIndexSegments), uint(sb.SegmentSize/sb.BlockSize),
	)
	if err != nil {
		return err
	}

	e.superblock = sb
	e.geo = geometry{sb: sb, sectorSize: opts.SectorSize}
	e.checkpoint = cp
	e.memtable = memtable.New()

	return e.wireBuffers()
}

func (e *Engine) geoFor(sb *superblock.Superblock) geometry {
	return geometry{sb: sb, sectorSize: e.opts.SectorSize}
}

// wireBuffers constructs the LRU caches, the BIT reader, the active
// data segment, and the index segment writer, cycling the index
// writer once up front so its cursor never starts on reserved segment
// 0.
func (e *Engine) wireBuffers() error {
	opts := e.opts

	leafCache, err := lrucache.New[*bit.LeafBlock](opts.LRUCacheSize)
	if err != nil {
		return err
	}
	indirectCache, err := lrucache.New[*bit.IndirectBlock](opts.LRUCacheSize)
	if err != nil {
		return err
	}
	e.reader = bit.NewReader(e.metadataDevice, opts.BlockSize, leafCache, indirectCache)

	dataAllocator := checkpoint.NewDataAllocator(e.checkpoint, func(idx uint) uint64 {
		return e.geo.dataSegmentHBA(opts.StartSector, idx)
	})
	e.dataSegment = segment.New(&segment.Config{
		HBA:           e.geo.dataSegmentHBA(opts.StartSector, e.checkpoint.CurrentDataSegment),
		BlockSize:     opts.BlockSize,
		SectorSize:    opts.SectorSize,
		SegmentBlocks: opts.SegmentBlocks,
		Device:        e.dataDevice,
		Allocator:     dataAllocator,
		MemTable:      e.memtable,
	})

	indexAllocator := checkpoint.NewIndexAllocator(e.checkpoint, e.geo.indexSegmentHBA)
	_, startHBA, err := indexAllocator.CycleSegment()
	if err != nil {
		return err
	}
	e.indexWriter = segment.NewIndexSegmentWriter(&segment.IndexWriterConfig{
		StartHBA:      startHBA,
		BlockSize:     opts.BlockSize,
		SectorSize:    opts.SectorSize,
		SegmentBlocks: opts.SegmentBlocks,
		Device:        e.metadataDevice,
		Allocator:     indexAllocator,
	})

	return nil
}

func (e *Engine) persistCheckpoint() error {
	return e.checkpoint.WriteTo(e.metadataDevice, e.geo.checkpointSector(), e.opts.SectorSize)
}

// PersistCheckpoint writes the current checkpoint to the metadata
// device without closing the engine, for a caller running a
// background checkpoint ticker per Options.CheckpointInterval.
func (e *Engine) PersistCheckpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persistCheckpoint()
}

// OrphanCount reports the checkpoint's current standing orphan count.
func (e *Engine) OrphanCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkpoint.OrphanCount()
}

// Close flushes the active data segment and the MemTable, persists the
// checkpoint, and releases both device handles. It is safe to call
// exactly once; subsequent calls return ErrEngineClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dataSegment.Used() > 0 {
		if err := e.dataSegment.Flush(); err != nil {
			e.log.Errorw("failed to flush data segment on close", "error", err)
			return err
		}
	}

	if e.memtable.Size() > 0 {
		if err := e.flushMemtableLocked(); err != nil {
			e.log.Errorw("failed to flush memtable on close", "error", err)
			return err
		}
	}

	if err := e.persistCheckpoint(); err != nil {
		e.log.Errorw("failed to persist checkpoint on close", "error", err)
		return err
	}

	var closeErr error
	if err := e.dataDevice.Close(); err != nil {
		closeErr = err
	}
	if err := e.metadataDevice.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

// flushMemtableLocked builds a level-0 BIT from the current MemTable
// generation, adds it to the catalog, and clears the MemTable. Caller
// must hold e.mu for writing.
func (e *Engine) flushMemtableLocked() error {
	b, err := bit.Build(e.memtable, e.indexWriter, e.opts.BlockSize, e.opts.BITMaxLevel)
	if err != nil {
		return err
	}

	meta := bit.RootMeta{
		UniqueID: e.checkpoint.Catalog.NextUniqueID(),
		Record:   b.Record,
		Level:    b.Level,
		Size:     b.Size,
	}
	if err := e.checkpoint.Catalog.AddBit(meta, 0); err != nil {
		return err
	}

	e.memtable.Clear()
	e.log.Infow("flushed memtable to level-0 BIT", "size", meta.Size, "uniqueID", meta.UniqueID)
	return nil
}
