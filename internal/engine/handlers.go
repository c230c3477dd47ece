package engine

import (
	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/crypto"
	"github.com/nilotpal-labs/sworndisk/internal/ioworker"
	"github.com/nilotpal-labs/sworndisk/internal/record"
)

// AttachPool wires the worker pool this Engine is served through, so
// a write that crosses the MemTable threshold can trigger a
// compaction pass. Must be called once, before the pool is started,
// since Pool.Start and Engine.HandleWrite cannot race against this
// assignment.
func (e *Engine) AttachPool(p *ioworker.Pool) {
	e.pool = p
}

func (e *Engine) blockSectors() uint64 {
	return uint64(e.opts.BlockSize) / uint64(e.opts.SectorSize)
}

// HandleWrite implements ioworker.Handler. It splits the bio's byte
// range into block-sized (or smaller, at the boundaries) chunks, doing
// a read-modify-write merge for any chunk that does not cover a whole
// block, and stages every resulting whole block into the active data
// segment.
func (e *Engine) HandleWrite(bio *ioworker.Bio) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sectorSize := uint64(e.opts.SectorSize)
	blockSectors := e.blockSectors()

	sector := bio.StartSector
	remaining := bio.Buffer

	for len(remaining) > 0 {
		lba := sector / blockSectors
		offsetInBlock := int(sector%blockSectors) * int(sectorSize)
		n := int(e.opts.BlockSize) - offsetInBlock
		if n > len(remaining) {
			n = len(remaining)
		}
		chunk := remaining[:n]

		if offsetInBlock == 0 && n == int(e.opts.BlockSize) {
			if _, _, err := e.dataSegment.Write(lba, chunk, 0); err != nil {
				return err
			}
		} else {
			full, err := e.readBlockLocked(lba)
			if err != nil {
				return err
			}
			copy(full[offsetInBlock:offsetInBlock+n], chunk)
			if _, _, err := e.dataSegment.Write(lba, full, 0); err != nil {
				return err
			}
		}

		remaining = remaining[n:]
		sector += uint64(n) / sectorSize
	}

	if e.memtable.Size() >= e.opts.MemtableThreshold {
		if err := e.flushMemtableLocked(); err != nil {
			return err
		}
		if e.pool != nil && e.checkpoint.Catalog.IsCompactionRequired(0, e.opts.MaxCompactionNumber) {
			e.pool.TriggerCompaction()
		}
	}

	return nil
}

// HandleRead implements ioworker.Handler. It splits the bio's byte
// range the same way HandleWrite does and fills each chunk from
// whichever layer currently holds the freshest copy of its block: the
// active data segment, then the MemTable, then the BIT catalog
// newest-level-first.
func (e *Engine) HandleRead(bio *ioworker.Bio) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sectorSize := uint64(e.opts.SectorSize)
	blockSectors := e.blockSectors()

	sector := bio.StartSector
	remaining := bio.Buffer

	for len(remaining) > 0 {
		lba := sector / blockSectors
		offsetInBlock := int(sector%blockSectors) * int(sectorSize)
		n := int(e.opts.BlockSize) - offsetInBlock
		if n > len(remaining) {
			n = len(remaining)
		}

		block, err := e.readBlockLocked(lba)
		if err != nil {
			return err
		}
		copy(remaining[:n], block[offsetInBlock:offsetInBlock+n])

		remaining = remaining[n:]
		sector += uint64(n) / sectorSize
	}

	return nil
}

// readBlockLocked returns the current full-block content for lba,
// checking the active data segment, then the MemTable, then the BIT
// catalog from level 0 upward (each level searched newest-entry-first).
// A never-written lba yields a zero-filled block. Caller must hold
// e.mu for at least reading.
func (e *Engine) readBlockLocked(lba uint64) ([]byte, error) {
	buf := make([]byte, e.opts.BlockSize)

	if ok := e.dataSegment.Read(lba, buf, 0, int(e.opts.BlockSize)); ok {
		return buf, nil
	}

	if rec, ok := e.memtable.Find(lba); ok {
		return e.readRecordBlock(rec)
	}

	rec, found, err := e.findInCatalogLocked(lba)
	if err != nil {
		return nil, err
	}
	if found {
		return e.readRecordBlock(rec)
	}

	return buf, nil
}

// findInCatalogLocked searches every BIT catalog level, lowest (most
// recently flushed) first, and within a level newest-entry-last-added
// first, for lba.
func (e *Engine) findInCatalogLocked(lba uint64) (record.Record, bool, error) {
	for level := 0; level < e.checkpoint.Catalog.MaxLevels(); level++ {
		entries := e.checkpoint.Catalog.Level(level)
		for i := len(entries) - 1; i >= 0; i-- {
			b, err := e.reader.LoadBIT(entries[i])
			if err != nil {
				return record.Record{}, false, err
			}
			rec, ok, err := e.reader.FindRecord(b, lba)
			if err != nil {
				return record.Record{}, false, err
			}
			if ok {
				return rec, true, nil
			}
		}
	}
	return record.Record{}, false, nil
}

// readRecordBlock reads and decrypts the block a Record describes,
// off the data device.
func (e *Engine) readRecordBlock(rec record.Record) ([]byte, error) {
	buf := make([]byte, e.opts.BlockSize)
	if err := e.dataDevice.Submit(blockdev.Read, rec.HBA, buf); err != nil {
		return nil, err
	}
	if err := crypto.Decrypt(rec.Key, rec.Nonce, rec.MAC, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
