package bit

import (
	"encoding/binary"

	"github.com/nilotpal-labs/sworndisk/internal/record"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// RootMeta is the durable descriptor of one BIT kept in the catalog:
// enough to re-read its root from disk without holding the BIT's
// in-memory form.
type RootMeta struct {
	UniqueID uint64
	Record   record.Record // Describes the BIT's root node (the RootRecord).
	Level    int
	Size     int
}

// Catalog is the BIT Catalog (BITC): for each level, an ordered list
// of RootMeta. Entries are appended newest-last; iterating a level
// newest-first walks the slice in reverse, which implements version
// ordering for the read path (§4.6, §4.11).
type Catalog struct {
	levels    [][]RootMeta
	nextID    uint64
	maxLevels int
}

// NewCatalog allocates an empty catalog with the given number of
// levels.
func NewCatalog(maxLevels int) *Catalog {
	return &Catalog{levels: make([][]RootMeta, maxLevels), nextID: 1, maxLevels: maxLevels}
}

// NextUniqueID allocates and returns the next monotonically
// increasing bit_unique_id; IDs are never reused once a BIT holding
// one is released.
func (c *Catalog) NextUniqueID() uint64 {
	id := c.nextID
	c.nextID++
	return id
}

// AddBit appends a newly built or compacted BIT's root descriptor at
// the given level.
func (c *Catalog) AddBit(meta RootMeta, level int) error {
	if level < 0 || level >= c.maxLevels {
		return sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "BIT level out of range",
		).WithField("level").WithRule("in_range").WithProvided(level)
	}
	c.levels[level] = append(c.levels[level], meta)
	return nil
}

// ReleaseBit removes a BIT with the given unique id from a level,
// as happens when compaction subsumes it.
func (c *Catalog) ReleaseBit(level int, id uint64) {
	if level < 0 || level >= c.maxLevels {
		return
	}
	entries := c.levels[level]
	for i, e := range entries {
		if e.UniqueID == id {
			c.levels[level] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Level returns the RootMeta entries at a level, oldest-first as
// stored; callers that need version order should walk it in reverse.
func (c *Catalog) Level(level int) []RootMeta {
	if level < 0 || level >= c.maxLevels {
		return nil
	}
	return c.levels[level]
}

// IsCompactionRequired reports whether level needs compaction, given
// the configured trigger count.
func (c *Catalog) IsCompactionRequired(level int, maxCompactionNumber int) bool {
	return len(c.Level(level)) >= maxCompactionNumber
}

// MaxLevels returns the number of levels this catalog tracks.
func (c *Catalog) MaxLevels() int { return c.maxLevels }

// catalogEntrySize is the encoded width of one RootMeta:
// [unique_id:8][level:4][size:8][record].
const catalogEntrySize = 8 + 4 + 8 + record.Size

// MarshalTo encodes the catalog as: [next_id:8][level_count:4] then,
// per level, [entry_count:4] followed by each entry.
func (c *Catalog) MarshalTo() []byte {
	total := 8 + 4
	for _, lvl := range c.levels {
		total += 4 + len(lvl)*catalogEntrySize
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], c.nextID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(c.levels)))

	off := 12
	for _, lvl := range c.levels {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(lvl)))
		off += 4
		for _, e := range lvl {
			binary.LittleEndian.PutUint64(buf[off:off+8], e.UniqueID)
			binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(e.Level))
			binary.LittleEndian.PutUint64(buf[off+12:off+20], uint64(e.Size))
			copy(buf[off+20:off+catalogEntrySize], e.Record.MarshalTo())
			off += catalogEntrySize
		}
	}
	return buf
}

// UnmarshalCatalog decodes a catalog previously produced by MarshalTo.
func UnmarshalCatalog(data []byte) (*Catalog, error) {
	if len(data) < 12 {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "bit catalog header truncated")
	}

	nextID := binary.LittleEndian.Uint64(data[0:8])
	levelCount := binary.LittleEndian.Uint32(data[8:12])

	c := &Catalog{levels: make([][]RootMeta, levelCount), nextID: nextID, maxLevels: int(levelCount)}

	off := 12
	for lvl := uint32(0); lvl < levelCount; lvl++ {
		if off+4 > len(data) {
			return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "bit catalog level header truncated")
		}
		count := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4

		entries := make([]RootMeta, 0, count)
		for i := uint32(0); i < count; i++ {
			if off+catalogEntrySize > len(data) {
				return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "bit catalog entry truncated")
			}
			uniqueID := binary.LittleEndian.Uint64(data[off : off+8])
			level := binary.LittleEndian.Uint32(data[off+8 : off+12])
			size := binary.LittleEndian.Uint64(data[off+12 : off+20])
			rec, err := record.Unmarshal(data[off+20 : off+catalogEntrySize])
			if err != nil {
				return nil, err
			}
			entries = append(entries, RootMeta{UniqueID: uniqueID, Record: rec, Level: int(level), Size: int(size)})
			off += catalogEntrySize
		}
		c.levels[lvl] = entries
	}

	return c, nil
}
