package engine

import (
	"context"

	"github.com/nilotpal-labs/sworndisk/internal/bit"
)

// RunCompaction implements ioworker.Handler. It walks every catalog
// level below the top, compacting any level that has accumulated at
// least MaxCompactionNumber BITs into one merged BIT added to the
// next level, then releasing the inputs it subsumed.
func (e *Engine) RunCompaction(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	maxLevels := e.checkpoint.Catalog.MaxLevels()
	for level := 0; level < maxLevels-1; level++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !e.checkpoint.Catalog.IsCompactionRequired(level, e.opts.MaxCompactionNumber) {
			continue
		}

		if err := e.compactLevelLocked(level); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) compactLevelLocked(level int) error {
	entries := e.checkpoint.Catalog.Level(level)
	if len(entries) == 0 {
		return nil
	}

	inputs := make([]*bit.BIT, 0, len(entries))
	inputIDs := make([]uint64, 0, len(entries))
	for _, meta := range entries {
		b, err := e.reader.LoadBIT(meta)
		if err != nil {
			return err
		}
		inputs = append(inputs, b)
		inputIDs = append(inputIDs, meta.UniqueID)
	}

	merged, stats, err := bit.Compact(e.reader, inputs, inputIDs, e.indexWriter, e.opts.BlockSize, e.opts.BITMaxLevel)
	if err != nil {
		return err
	}

	if merged != nil {
		newMeta := bit.RootMeta{
			UniqueID: e.checkpoint.Catalog.NextUniqueID(),
			Record:   merged.Record,
			Level:    merged.Level,
			Size:     merged.Size,
		}
		if err := e.checkpoint.Catalog.AddBit(newMeta, level+1); err != nil {
			return err
		}
	}

	for _, id := range inputIDs {
		e.checkpoint.Catalog.ReleaseBit(level, id)
	}

	e.log.Infow("compacted BIT level",
		"level", level, "inputs", len(inputIDs), "orphanedBlocks", stats.OrphanedBlocks)

	return nil
}
