package bit

// Stats summarizes the outcome of one compaction run: orphaned blocks
// are physical data blocks whose only referencing Record was discarded
// by deduplication. Per design, these are not reclaimed by
// compaction itself; Stats exists purely to surface the rate to a
// caller, since the checkpoint's DST is deliberately left untouched.
type Stats struct {
	OrphanedBlocks int
}

// flatten walks every leaf reachable from a BIT's root, depth-first,
// and returns its LeafRecords in ascending LBA order. BITs built by
// this package already guarantee that order at every layer, so a
// single left-to-right walk suffices.
func flatten(reader *Reader, b *BIT) ([]LeafRecord, error) {
	var out []LeafRecord
	var walk func(ib *IndirectBlock, depth int) error

	walk = func(ib *IndirectBlock, depth int) error {
		for _, child := range ib.Children {
			if depth == 0 {
				leaf, err := reader.readLeaf(child.Record)
				if err != nil {
					return err
				}
				out = append(out, leaf.Records...)
				continue
			}
			next, err := reader.readIndirect(child.Record)
			if err != nil {
				return err
			}
			if err := walk(next, depth-1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(b.Root, b.Level-2); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeInput tracks one input BIT's flattened stream and the next
// unconsumed position within it.
type mergeInput struct {
	uniqueID uint64
	records  []LeafRecord
	pos      int
}

func (m *mergeInput) exhausted() bool { return m.pos >= len(m.records) }
func (m *mergeInput) current() LeafRecord { return m.records[m.pos] }

// Compact performs the k-way merge of the given level-L BITs into one
// new BIT: at each step the smallest current LBA wins; ties are
// broken in favor of the input with the highest unique_id (newest),
// and every other tied input's entry for that LBA is discarded as an
// orphan.
func Compact(reader *Reader, inputs []*BIT, inputIDs []uint64, writer Writer, blockSize uint32, maxLevel int) (*BIT, Stats, error) {
	merges := make([]*mergeInput, 0, len(inputs))
	for i, b := range inputs {
		recs, err := flatten(reader, b)
		if err != nil {
			return nil, Stats{}, err
		}
		merges = append(merges, &mergeInput{uniqueID: inputIDs[i], records: recs})
	}

	var stats Stats
	var merged []LeafRecord

	for {
		bestIdx := -1
		var bestLBA uint64
		for i, m := range merges {
			if m.exhausted() {
				continue
			}
			lba := m.current().LBA
			if bestIdx == -1 || lba < bestLBA {
				bestIdx = i
				bestLBA = lba
			}
		}
		if bestIdx == -1 {
			break
		}

		// Among every input currently sitting at bestLBA, keep the
		// newest and advance (and orphan) the rest.
		winner := bestIdx
		for i, m := range merges {
			if i == bestIdx || m.exhausted() || m.current().LBA != bestLBA {
				continue
			}
			if m.uniqueID > merges[winner].uniqueID {
				stats.OrphanedBlocks++
				winner = i
			} else {
				stats.OrphanedBlocks++
			}
		}

		merged = append(merged, merges[winner].current())
		for _, m := range merges {
			if !m.exhausted() && m.current().LBA == bestLBA {
				m.pos++
			}
		}
	}

	if len(merged) == 0 {
		return nil, stats, nil
	}

	level, err := computeLevel(len(merged), LeafBlockChildren(blockSize), IndirectBlockChildren(blockSize), maxLevel)
	if err != nil {
		return nil, stats, err
	}

	b := newBuilder(blockSize, level, writer)
	for _, e := range merged {
		if err := b.append(e.LBA, e.Record); err != nil {
			return nil, stats, err
		}
	}

	out, err := b.finish(level)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}
