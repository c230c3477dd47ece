package bit

import (
	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	"github.com/nilotpal-labs/sworndisk/internal/crypto"
	"github.com/nilotpal-labs/sworndisk/internal/lrucache"
	"github.com/nilotpal-labs/sworndisk/internal/record"
)

// Reader reads and decrypts BIT nodes from the metadata device,
// consulting an LRU cache per node kind before going to disk, per the
// two-cache lock discipline.
type Reader struct {
	device        *blockdev.Device
	blockSize     uint32
	leafCache     *lrucache.Cache[*LeafBlock]
	indirectCache *lrucache.Cache[*IndirectBlock]
}

// NewReader constructs a Reader with the given node caches.
func NewReader(device *blockdev.Device, blockSize uint32, leafCache *lrucache.Cache[*LeafBlock], indirectCache *lrucache.Cache[*IndirectBlock]) *Reader {
	return &Reader{device: device, blockSize: blockSize, leafCache: leafCache, indirectCache: indirectCache}
}

func (r *Reader) readBlock(rec record.Record) ([]byte, error) {
	buf := make([]byte, r.blockSize)
	if err := r.device.Submit(blockdev.Read, rec.HBA, buf); err != nil {
		return nil, err
	}
	if err := crypto.Decrypt(rec.Key, rec.Nonce, rec.MAC, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) readLeaf(rec record.Record) (*LeafBlock, error) {
	if leaf, ok := r.leafCache.Get(rec.HBA); ok {
		return leaf, nil
	}

	buf, err := r.readBlock(rec)
	if err != nil {
		return nil, err
	}

	leaf, err := UnmarshalLeafBlock(buf, r.blockSize)
	if err != nil {
		return nil, err
	}

	r.leafCache.Add(rec.HBA, leaf)
	return leaf, nil
}

func (r *Reader) readIndirect(rec record.Record) (*IndirectBlock, error) {
	if ib, ok := r.indirectCache.Get(rec.HBA); ok {
		return ib, nil
	}

	buf, err := r.readBlock(rec)
	if err != nil {
		return nil, err
	}

	ib, err := UnmarshalIndirectBlock(buf, r.blockSize)
	if err != nil {
		return nil, err
	}

	r.indirectCache.Add(rec.HBA, ib)
	return ib, nil
}

// FindRecord descends the BIT for lba, fast-rejecting outside the
// overall range, then binary-searching each level in turn.
func (r *Reader) FindRecord(b *BIT, lba uint64) (record.Record, bool, error) {
	if !b.Contains(lba) {
		return record.Record{}, false, nil
	}

	current := b.Root
	depth := b.Level - 2

	for depth > 0 {
		child, ok := current.Find(lba)
		if !ok {
			return record.Record{}, false, nil
		}
		next, err := r.readIndirect(child.Record)
		if err != nil {
			return record.Record{}, false, err
		}
		current = next
		depth--
	}

	child, ok := current.Find(lba)
	if !ok {
		return record.Record{}, false, nil
	}

	leaf, err := r.readLeaf(child.Record)
	if err != nil {
		return record.Record{}, false, err
	}

	rec, ok := leaf.Find(lba)
	return rec, ok, nil
}

// ReadRoot re-reads and decodes a BIT's root from disk via its
// RootRecord, used when a catalog entry's in-memory root was dropped
// (e.g. after a remount).
func (r *Reader) ReadRoot(rootRecord record.Record) (*IndirectBlock, error) {
	buf, err := r.readBlock(rootRecord)
	if err != nil {
		return nil, err
	}
	return UnmarshalIndirectBlock(buf, r.blockSize)
}

// LoadBIT reconstructs a queryable BIT from a catalog RootMeta,
// reading its root node from disk and deriving the overall LBA range
// from the root's own children (the lowest LoLBA and highest HiLBA
// among them). Used when a catalog entry's in-memory Root was dropped,
// e.g. right after a remount.
func (r *Reader) LoadBIT(meta RootMeta) (*BIT, error) {
	root, err := r.ReadRoot(meta.Record)
	if err != nil {
		return nil, err
	}

	b := &BIT{Root: root, Record: meta.Record, Level: meta.Level, Size: meta.Size}
	if len(root.Children) > 0 {
		b.LoLBA = root.Children[0].LoLBA
		b.HiLBA = root.Children[len(root.Children)-1].HiLBA
	}
	return b, nil
}
