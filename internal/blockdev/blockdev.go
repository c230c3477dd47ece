// Package blockdev implements the synchronous sector-addressed block
// I/O primitive every other component submits reads and writes
// through: a contiguous sector range on a backing file, read or
// written in one call that blocks until complete.
package blockdev

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/nilotpal-labs/sworndisk/pkg/filesys"
	"go.uber.org/zap"

	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// SectorSize is the addressing granularity of every Device, matching
// the engine-wide default; all HBAs are expressed in this unit.
const SectorSize = 512

// Direction distinguishes a read submission from a write submission.
type Direction int

const (
	Read Direction = iota
	Write
)

// Device is a sector-addressed backing file standing in for a raw
// block device. It supports exactly one operation in each direction:
// submit a contiguous sector range for synchronous completion.
type Device struct {
	path   string
	file   *os.File
	closed atomic.Bool
	log    *zap.SugaredLogger
}

// Config carries the parameters required to open or create a Device.
type Config struct {
	Path   string
	Create bool // Create the backing file (and its parent directory) if absent.
	Size   int64
	Logger *zap.SugaredLogger
}

// Open opens (and optionally creates/extends) the backing file at the
// configured path, returning a Device ready to serve Submit calls.
func Open(config *Config) (*Device, error) {
	if config == nil || config.Path == "" {
		return nil, sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "blockdev configuration requires a path",
		).WithField("path").WithRule("required")
	}

	flags := os.O_RDWR
	if config.Create {
		flags |= os.O_CREATE

		dir := filepath.Dir(config.Path)
		if dir != "." {
			if err := filesys.CreateDir(dir, 0755, true); err != nil {
				return nil, sderrors.NewStorageError(err, sderrors.ErrorCodeIO, "failed to create backing device directory").
					WithPath(dir)
			}
		}
	}

	file, err := os.OpenFile(config.Path, flags, 0644)
	if err != nil {
		return nil, sderrors.ClassifyFileOpenError(err, config.Path)
	}

	if config.Create && config.Size > 0 {
		if err := file.Truncate(config.Size); err != nil {
			file.Close()
			return nil, sderrors.NewStorageError(err, sderrors.ErrorCodeIO, "failed to size backing device file").
				WithPath(config.Path)
		}
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Device{path: config.Path, file: file, log: log}, nil
}

// Submit performs one synchronous, contiguous sector-range I/O against
// the device. For Write, buf is written starting at startSector; for
// Read, buf is filled from startSector. len(buf) must be an exact
// multiple of SectorSize and determines nrSectors.
func (d *Device) Submit(direction Direction, startSector uint64, buf []byte) error {
	if d.closed.Load() {
		return sderrors.NewStorageError(nil, sderrors.ErrorCodeIO, "device is closed").WithPath(d.path)
	}
	if len(buf) == 0 || len(buf)%SectorSize != 0 {
		return sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "buffer length must be a nonzero multiple of sector size",
		).WithField("buf").WithRule("sector_aligned").WithProvided(len(buf))
	}

	offset := int64(startSector) * SectorSize

	switch direction {
	case Read:
		if _, err := d.file.ReadAt(buf, offset); err != nil {
			return sderrors.NewStorageError(err, sderrors.ErrorCodeIO, "device read failed").
				WithPath(d.path).WithHBA(int64(startSector))
		}
	case Write:
		if _, err := d.file.WriteAt(buf, offset); err != nil {
			return sderrors.ClassifySyncError(err, d.path, int64(startSector))
		}
	default:
		return sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "unsupported I/O direction",
		).WithField("direction").WithRule("known_direction").WithProvided(int(direction))
	}

	return nil
}

// Sync flushes any OS-buffered writes to stable storage.
func (d *Device) Sync() error {
	if err := d.file.Sync(); err != nil {
		return sderrors.ClassifySyncError(err, d.path, -1)
	}
	return nil
}

// Close releases the underlying file handle. Subsequent Submit calls
// fail with ErrorCodeIO.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.file.Close()
}

// Path returns the backing file path this device was opened against.
func (d *Device) Path() string { return d.path }
