package ioworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/pkg/logger"
)

type fakeHandler struct {
	writes       atomic.Int32
	reads        atomic.Int32
	compactions  atomic.Int32
	failNextRead atomic.Bool
}

func (h *fakeHandler) HandleWrite(bio *Bio) error {
	h.writes.Add(1)
	return nil
}

func (h *fakeHandler) HandleRead(bio *Bio) error {
	h.reads.Add(1)
	if h.failNextRead.CompareAndSwap(true, false) {
		return context.DeadlineExceeded
	}
	return nil
}

func (h *fakeHandler) RunCompaction(ctx context.Context) error {
	h.compactions.Add(1)
	return nil
}

func newTestPool(h *fakeHandler) *Pool {
	return NewPool(&Config{MaxWorkers: 2, Handler: h, Logger: logger.New("ioworker-test")})
}

func TestSubmitWriteAndRead(t *testing.T) {
	h := &fakeHandler{}
	p := newTestPool(h)
	p.Start()
	defer p.Close()

	wbio := NewBio(blockdev.Write, 0, make([]byte, 512))
	require.NoError(t, p.Submit(wbio))
	require.NoError(t, wbio.Wait())

	rbio := NewBio(blockdev.Read, 0, make([]byte, 512))
	require.NoError(t, p.Submit(rbio))
	require.NoError(t, rbio.Wait())

	require.EqualValues(t, 1, h.writes.Load())
	require.EqualValues(t, 1, h.reads.Load())
}

func TestBioPropagatesHandlerError(t *testing.T) {
	h := &fakeHandler{}
	h.failNextRead.Store(true)
	p := newTestPool(h)
	p.Start()
	defer p.Close()

	bio := NewBio(blockdev.Read, 0, make([]byte, 512))
	require.NoError(t, p.Submit(bio))
	require.Error(t, bio.Wait())
}

func TestTriggerCompactionCoalesces(t *testing.T) {
	h := &fakeHandler{}
	p := newTestPool(h)
	p.Start()
	defer p.Close()

	p.TriggerCompaction()
	p.TriggerCompaction()
	p.TriggerCompaction()

	require.Eventually(t, func() bool {
		return h.compactions.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	// Three triggers against the one-slot channel yield at most two
	// passes: one already taken by the worker and one left pending.
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, h.compactions.Load(), int32(2))
}

func TestSubmitAfterCloseFails(t *testing.T) {
	h := &fakeHandler{}
	p := newTestPool(h)
	p.Start()
	require.NoError(t, p.Close())

	bio := NewBio(blockdev.Write, 0, make([]byte, 512))
	require.Error(t, p.Submit(bio))
}
