package ioworker

import "github.com/nilotpal-labs/sworndisk/internal/blockdev"

// Bio is one host block-I/O request: a direction, a starting sector on
// the virtual device, and the buffer to fill (read) or drain (write).
// It carries its own completion signal so the submitting goroutine can
// block until a worker finishes it, mirroring a host bio's
// submit/complete lifecycle.
type Bio struct {
	Direction   blockdev.Direction
	StartSector uint64
	Buffer      []byte

	err  error
	done chan struct{}
}

// NewBio builds a Bio ready to Submit to a Pool.
func NewBio(direction blockdev.Direction, startSector uint64, buffer []byte) *Bio {
	return &Bio{
		Direction:   direction,
		StartSector: startSector,
		Buffer:      buffer,
		done:        make(chan struct{}),
	}
}

// complete marks the bio finished with the given error (nil on
// success) and wakes any waiter.
func (b *Bio) complete(err error) {
	b.err = err
	close(b.done)
}

// Wait blocks until a worker has completed this bio and returns its
// terminal error, if any.
func (b *Bio) Wait() error {
	<-b.done
	return b.err
}
