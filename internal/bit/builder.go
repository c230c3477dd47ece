package bit

import (
	"github.com/nilotpal-labs/sworndisk/internal/crypto"
	"github.com/nilotpal-labs/sworndisk/internal/memtable"
	"github.com/nilotpal-labs/sworndisk/internal/record"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// BIT is a persisted, immutable index tree over LBA -> Record, built
// from one MemTable generation or from compacting other BITs.
type BIT struct {
	Root   *IndirectBlock // In-memory retained root, also durably written.
	Record record.Record  // Describes Root on the metadata device (the RootRecord).
	Level  int            // Total layer count: leaf + indirect layers.
	Size   int            // Number of LBA entries indexed.
	LoLBA  uint64
	HiLBA  uint64
}

// Contains reports whether lba falls within this BIT's overall range,
// enabling the fast reject §4.6 requires before any descent.
func (b *BIT) Contains(lba uint64) bool {
	return b.Size > 0 && lba >= b.LoLBA && lba <= b.HiLBA
}

// Writer is the narrow surface Build needs to persist nodes: append
// one already-encrypted block and get back its HBA.
type Writer interface {
	Append(block []byte) (hba uint64, err error)
}

// computeLevel finds the smallest level >= 2 such that a tree of that
// depth can index n entries, bounded by maxLevel.
func computeLevel(n, leafChildren, indirectChildren, maxLevel int) (int, error) {
	if n <= 0 {
		return 0, sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "cannot build a BIT from zero entries",
		).WithField("n").WithRule("positive")
	}

	level := 2
	capacity := leafChildren * indirectChildren
	for capacity < n {
		level++
		if level >= maxLevel {
			return 0, sderrors.NewStorageError(nil, sderrors.ErrorCodeNoSpace, "memtable generation exceeds maximum BIT depth").
				WithDetail("entries", n).WithDetail("maxLevel", maxLevel)
		}
		capacity *= indirectChildren
	}
	return level, nil
}

// builder accumulates one leaf frame and one indirect frame per layer
// while walking a MemTable (or a compaction merge stream) in ascending
// LBA order.
type builder struct {
	blockSize        uint32
	leafChildren     int
	indirectChildren int
	writer           Writer

	leaf     *LeafBlock
	indirect []*IndirectBlock // index 0 = root, last index = bottommost (parent of leaves).

	loLBA, hiLBA uint64
	haveRange    bool
	size         int
}

func newBuilder(blockSize uint32, level int, writer Writer) *builder {
	return &builder{
		blockSize:        blockSize,
		leafChildren:     LeafBlockChildren(blockSize),
		indirectChildren: IndirectBlockChildren(blockSize),
		writer:           writer,
		leaf:             &LeafBlock{},
		indirect:         make([]*IndirectBlock, level-1),
	}
}

func (b *builder) observe(lba uint64) {
	if !b.haveRange {
		b.loLBA, b.hiLBA = lba, lba
		b.haveRange = true
		return
	}
	if lba < b.loLBA {
		b.loLBA = lba
	}
	if lba > b.hiLBA {
		b.hiLBA = lba
	}
}

func (b *builder) append(lba uint64, rec record.Record) error {
	b.observe(lba)
	b.size++

	b.leaf.Records = append(b.leaf.Records, LeafRecord{LBA: lba, Record: rec})
	if len(b.leaf.Records) == b.leafChildren {
		return b.flushLeaf()
	}
	return nil
}

func (b *builder) encryptAndWrite(buf []byte) (record.Record, error) {
	key, err := crypto.NewKey()
	if err != nil {
		return record.Record{}, err
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return record.Record{}, err
	}
	mac, err := crypto.Encrypt(key, nonce, buf)
	if err != nil {
		return record.Record{}, err
	}

	hba, err := b.writer.Append(buf)
	if err != nil {
		return record.Record{}, err
	}

	return record.Record{HBA: hba, Key: key, Nonce: nonce, MAC: mac}, nil
}

func (b *builder) flushLeaf() error {
	if len(b.leaf.Records) == 0 {
		return nil
	}

	buf := b.leaf.MarshalTo(b.blockSize)
	rec, err := b.encryptAndWrite(buf)
	if err != nil {
		return err
	}

	ir := IndirectRecord{
		LoLBA:  b.leaf.Records[0].LBA,
		HiLBA:  b.leaf.Records[len(b.leaf.Records)-1].LBA,
		Record: rec,
	}
	b.leaf = &LeafBlock{}

	bottom := len(b.indirect) - 1
	return b.pushIndirect(bottom, ir)
}

// pushIndirect appends ir into layer L, cascading a flush-and-push
// into layer L-1 whenever L becomes full. L == 0 is the root and is
// never cascaded mid-stream; Build's final pass flushes it once.
func (b *builder) pushIndirect(l int, ir IndirectRecord) error {
	if b.indirect[l] == nil {
		b.indirect[l] = &IndirectBlock{}
	}
	b.indirect[l].Children = append(b.indirect[l].Children, ir)

	if l == 0 || len(b.indirect[l].Children) < b.indirectChildren {
		return nil
	}

	buf := b.indirect[l].MarshalTo(b.blockSize)
	rec, err := b.encryptAndWrite(buf)
	if err != nil {
		return err
	}

	parentIR := IndirectRecord{
		LoLBA:  b.indirect[l].Children[0].LoLBA,
		HiLBA:  b.indirect[l].Children[len(b.indirect[l].Children)-1].HiLBA,
		Record: rec,
	}
	b.indirect[l] = &IndirectBlock{}
	return b.pushIndirect(l-1, parentIR)
}

// finish flushes every pending partial layer, bottom to top, and
// returns the finished BIT with its root retained in memory.
func (b *builder) finish(level int) (*BIT, error) {
	if err := b.flushLeaf(); err != nil {
		return nil, err
	}

	for l := len(b.indirect) - 1; l >= 1; l-- {
		if b.indirect[l] == nil || len(b.indirect[l].Children) == 0 {
			continue
		}
		buf := b.indirect[l].MarshalTo(b.blockSize)
		rec, err := b.encryptAndWrite(buf)
		if err != nil {
			return nil, err
		}
		parentIR := IndirectRecord{
			LoLBA:  b.indirect[l].Children[0].LoLBA,
			HiLBA:  b.indirect[l].Children[len(b.indirect[l].Children)-1].HiLBA,
			Record: rec,
		}
		if b.indirect[l-1] == nil {
			b.indirect[l-1] = &IndirectBlock{}
		}
		b.indirect[l-1].Children = append(b.indirect[l-1].Children, parentIR)
	}

	root := b.indirect[0]
	if root == nil || len(root.Children) == 0 {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeInternal, "BIT build produced an empty root")
	}

	buf := root.MarshalTo(b.blockSize)
	rootRec, err := b.encryptAndWrite(buf)
	if err != nil {
		return nil, err
	}

	return &BIT{
		Root:   root,
		Record: rootRec,
		Level:  level,
		Size:   b.size,
		LoLBA:  b.loLBA,
		HiLBA:  b.hiLBA,
	}, nil
}

// Build constructs a level-0 BIT from a MemTable generation, per the
// bottom-up builder: leaves filled in ascending LBA order, cascading
// full layers upward, a final pass flushing every remaining partial
// layer up to and including the root.
func Build(mt *memtable.MemTable, writer Writer, blockSize uint32, maxLevel int) (*BIT, error) {
	n := mt.Size()
	level, err := computeLevel(n, LeafBlockChildren(blockSize), IndirectBlockChildren(blockSize), maxLevel)
	if err != nil {
		return nil, err
	}

	b := newBuilder(blockSize, level, writer)

	var appendErr error
	mt.Iter(func(lba uint64, rec record.Record) bool {
		if err := b.append(lba, rec); err != nil {
			appendErr = err
			return false
		}
		return true
	})
	if appendErr != nil {
		return nil, appendErr
	}

	return b.finish(level)
}
