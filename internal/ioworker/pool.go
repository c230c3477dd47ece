package ioworker

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// ErrPoolClosed is returned by Submit once the pool has started
// shutting down.
var ErrPoolClosed = sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "operation failed: cannot submit to a closed worker pool")

// Config holds the parameters needed to start a Pool.
type Config struct {
	MaxWorkers int
	Handler    Handler
	Logger     *zap.SugaredLogger
}

// Pool runs a fixed set of read/write workers plus one dedicated
// compaction worker, coordinated through one errgroup.Group so Close
// can drain every goroutine deterministically.
type Pool struct {
	handler Handler
	queue   *bioQueue
	log     *zap.SugaredLogger

	maxWorkers int
	compact    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closed atomic.Bool
}

// NewPool constructs a Pool. Call Start to launch its workers.
func NewPool(config *Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	return &Pool{
		handler:    config.Handler,
		queue:      newBioQueue(),
		log:        config.Logger,
		maxWorkers: config.MaxWorkers,
		compact:    make(chan struct{}, 1),
		ctx:        gctx,
		cancel:     cancel,
		group:      group,
	}
}

// Start launches MaxWorkers read/write workers and the compaction
// worker. Each runs until the pool's context is cancelled.
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.group.Go(p.runWorker)
	}
	p.group.Go(p.runCompactionWorker)
}

func (p *Pool) runWorker() error {
	for {
		bio, ok := p.queue.pop()
		if !ok {
			return nil
		}

		var err error
		switch bio.Direction {
		case blockdev.Read:
			err = p.handler.HandleRead(bio)
		case blockdev.Write:
			err = p.handler.HandleWrite(bio)
		}
		if err != nil {
			p.log.Errorw("bio failed", "direction", bio.Direction, "startSector", bio.StartSector, "error", err)
		}
		bio.complete(err)
	}
}

func (p *Pool) runCompactionWorker() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case <-p.compact:
			if err := p.handler.RunCompaction(p.ctx); err != nil {
				p.log.Errorw("compaction pass failed", "error", err)
			}
		}
	}
}

// Submit enqueues a bio for a read/write worker to pick up. Callers
// block on bio.Wait() for completion.
func (p *Pool) Submit(bio *Bio) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.queue.push(bio)
	return nil
}

// TriggerCompaction wakes the compaction worker. Multiple triggers
// while a pass is already pending coalesce into one.
func (p *Pool) TriggerCompaction() {
	select {
	case p.compact <- struct{}{}:
	default:
	}
}

// Close drains the bio queue, stops every worker, and waits for them
// to exit.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.queue.close()
	p.cancel()
	return p.group.Wait()
}
