// Package sworndisk is the public entry point: a log-structured,
// authenticated-encryption virtual block device backed by a data
// device and a metadata device. Open mounts (or formats) a device and
// returns a Device exposing sector-addressed ReadAt/WriteAt, mirroring
// the host bio submit/wait contract the engine is built around.
package sworndisk

import (
	"context"
	"sync"
	"time"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/engine"
	"github.com/nilotpal-labs/sworndisk/internal/ioworker"
	"github.com/nilotpal-labs/sworndisk/pkg/logger"
	"github.com/nilotpal-labs/sworndisk/pkg/options"
)

// Device is a mounted sworndisk instance. Concurrent ReadAt/WriteAt
// calls are safe; each is dispatched to the worker pool and blocks
// until its bio completes.
type Device struct {
	engine *engine.Engine
	pool   *ioworker.Pool
	opts   *options.Options

	stopCheckpoint context.CancelFunc
	checkpointDone chan struct{}

	closeOnce sync.Once
}

// Open mounts a sworndisk device under the given service name (used
// to tag the structured logger), applying opts over the library
// defaults. Whether this formats fresh on-disk structures or loads
// existing ones is governed by options.WithFormatMode (default: never
// format).
func Open(ctx context.Context, service string, opts ...options.OptionFunc) (*Device, error) {
	log := logger.New(service)

	o := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	eng, err := engine.New(ctx, &engine.Config{Options: &o, Logger: log})
	if err != nil {
		return nil, err
	}

	pool := ioworker.NewPool(&ioworker.Config{MaxWorkers: o.MaxWorkers, Handler: eng, Logger: log})
	eng.AttachPool(pool)
	pool.Start()

	d := &Device{engine: eng, pool: pool, opts: &o}
	d.startCheckpointTicker()

	return d, nil
}

// startCheckpointTicker launches the background checkpoint
// persistence loop when Options.CheckpointInterval is nonzero; the
// checkpoint is always additionally persisted at Close.
func (d *Device) startCheckpointTicker() {
	if d.opts.CheckpointInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.stopCheckpoint = cancel
	d.checkpointDone = make(chan struct{})

	go func() {
		defer close(d.checkpointDone)

		ticker := time.NewTicker(d.opts.CheckpointInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = d.engine.PersistCheckpoint()
			}
		}
	}()
}

// ReadAt fills buf from the virtual device starting at startSector,
// blocking until the read completes.
func (d *Device) ReadAt(startSector uint64, buf []byte) error {
	bio := ioworker.NewBio(blockdev.Read, startSector, buf)
	if err := d.pool.Submit(bio); err != nil {
		return err
	}
	return bio.Wait()
}

// WriteAt writes buf to the virtual device starting at startSector,
// blocking until the write completes.
func (d *Device) WriteAt(startSector uint64, buf []byte) error {
	bio := ioworker.NewBio(blockdev.Write, startSector, buf)
	if err := d.pool.Submit(bio); err != nil {
		return err
	}
	return bio.Wait()
}

// OrphanCount reports the device's current standing count of
// physical data blocks no live index entry still references.
func (d *Device) OrphanCount() int {
	return d.engine.OrphanCount()
}

// Close stops the checkpoint ticker, drains and stops the worker
// pool, then flushes the engine's in-memory state and persists a
// final checkpoint. Safe to call more than once; only the first call
// has effect.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.stopCheckpoint != nil {
			d.stopCheckpoint()
			<-d.checkpointDone
		}
		if poolErr := d.pool.Close(); poolErr != nil {
			err = poolErr
			return
		}
		err = d.engine.Close()
	})
	return err
}
