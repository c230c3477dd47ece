// Package memtable implements the in-memory level-0 of the index: an
// ordered map from logical block address to Record, flushed into a
// new level-0 BIT once it grows past a configured threshold.
package memtable

import (
	"github.com/google/btree"

	"github.com/nilotpal-labs/sworndisk/internal/record"
)

// entry is the ordered-map element the underlying btree sorts by LBA.
type entry struct {
	lba uint64
	rec record.Record
}

func less(a, b entry) bool { return a.lba < b.lba }

// MemTable is an ordered LBA → Record map with a fast range-reject:
// any lookup outside the widest LBA range ever inserted short-circuits
// without touching the tree.
type MemTable struct {
	tree      *btree.BTreeG[entry]
	minLBA    uint64
	maxLBA    uint64
	haveRange bool
}

// New constructs an empty MemTable.
func New() *MemTable {
	return &MemTable{tree: btree.NewG(32, less)}
}

// Insert records rec under lba, overwriting any prior Record for the
// same lba. Size() is defined as the map's cardinality (distinct
// keys), not insertion count, so an overwrite does not change Size().
func (m *MemTable) Insert(lba uint64, rec record.Record) {
	m.tree.ReplaceOrInsert(entry{lba: lba, rec: rec})

	if !m.haveRange {
		m.minLBA, m.maxLBA = lba, lba
		m.haveRange = true
		return
	}
	if lba < m.minLBA {
		m.minLBA = lba
	}
	if lba > m.maxLBA {
		m.maxLBA = lba
	}
}

// Find looks up lba, fast-rejecting if it falls outside the observed
// range before ever touching the tree.
func (m *MemTable) Find(lba uint64) (record.Record, bool) {
	if !m.haveRange || lba < m.minLBA || lba > m.maxLBA {
		return record.Record{}, false
	}

	item, ok := m.tree.Get(entry{lba: lba})
	if !ok {
		return record.Record{}, false
	}
	return item.rec, true
}

// Size returns the number of distinct LBAs currently held.
func (m *MemTable) Size() int { return m.tree.Len() }

// Range returns the widest (min, max) LBA ever inserted since the
// last Clear, and whether any insertion has occurred.
func (m *MemTable) Range() (min, max uint64, ok bool) {
	return m.minLBA, m.maxLBA, m.haveRange
}

// Iter calls fn for every entry in ascending LBA order, stopping early
// if fn returns false.
func (m *MemTable) Iter(fn func(lba uint64, rec record.Record) bool) {
	m.tree.Ascend(func(e entry) bool {
		return fn(e.lba, e.rec)
	})
}

// Clear empties the MemTable and resets the observed range, as
// happens immediately after a flush to a level-0 BIT.
func (m *MemTable) Clear() {
	m.tree.Clear(false)
	m.minLBA, m.maxLBA = 0, 0
	m.haveRange = false
}
