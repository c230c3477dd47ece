// Package superblock implements the immutable, two-copy layout
// descriptor every engine mount starts by reading: block/segment
// geometry, device block counts, and the byte offsets of the index,
// journal, and checkpoint regions on the metadata device.
package superblock

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/nilotpal-labs/sworndisk/internal/blockdev"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

const (
	// MagicNumber identifies a valid superblock.
	MagicNumber uint32 = 0x03070612

	// ChecksumXORSeed seeds the superblock's 32-bit checksum.
	ChecksumXORSeed uint32 = 998244353

	// Size is the fixed on-disk width of a serialized Superblock, one
	// sector, with unused tail bytes zero.
	Size = blockdev.SectorSize

	// copy0Sector and copy1Sector are the two redundant superblock
	// locations on the metadata device.
	copy0Sector uint64 = 0
	copy1Sector uint64 = 1
)

// Superblock is written once at format time and is read-only for the
// remaining lifetime of the engine.
type Superblock struct {
	Magic       uint32
	BlockSize   uint32
	SegmentSize uint32

	NrBlocks        uint64 // Blocks addressable on the data device.
	NrDataSegments  uint32
	NrIndexSegments uint32

	IndexRegionOffset      uint64
	JournalRegionOffset    uint64
	CheckpointRegionOffset uint64

	// Checksum is excluded from its own computation (zeroed while
	// hashing) and validated on every read.
	Checksum uint32
}

// checksum computes the 32-bit block checksum over the struct's
// serialized form minus the checksum field, seeded with
// ChecksumXORSeed, following the same crc32-seeded-superblock pattern
// an ext4 implementation in the retrieved corpus uses.
func checksum(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf) ^ ChecksumXORSeed
}

// MarshalTo encodes sb into a fixed Size-byte little-endian buffer,
// computing and embedding the checksum.
func (sb *Superblock) MarshalTo() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(buf[4:8], sb.BlockSize)
	binary.LittleEndian.PutUint32(buf[8:12], sb.SegmentSize)
	binary.LittleEndian.PutUint64(buf[12:20], sb.NrBlocks)
	binary.LittleEndian.PutUint32(buf[20:24], sb.NrDataSegments)
	binary.LittleEndian.PutUint32(buf[24:28], sb.NrIndexSegments)
	binary.LittleEndian.PutUint64(buf[28:36], sb.IndexRegionOffset)
	binary.LittleEndian.PutUint64(buf[36:44], sb.JournalRegionOffset)
	binary.LittleEndian.PutUint64(buf[44:52], sb.CheckpointRegionOffset)
	// Checksum field (bytes [52:56]) stays zero while hashing.
	sum := checksum(buf[:Size-4])
	binary.LittleEndian.PutUint32(buf[52:56], sum)
	return buf
}

// Unmarshal decodes and validates a superblock copy, returning
// ErrorCodeCorruptSuperblock if the magic or checksum does not match.
func Unmarshal(buf []byte) (*Superblock, error) {
	if len(buf) < Size {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeCorruptSuperblock, "superblock buffer too short")
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != MagicNumber {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeCorruptSuperblock, "superblock magic mismatch")
	}

	hashed := append([]byte(nil), buf[:Size-4]...)
	binary.LittleEndian.PutUint32(hashed[52:56], 0)
	wantSum := checksum(hashed)
	gotSum := binary.LittleEndian.Uint32(buf[52:56])
	if wantSum != gotSum {
		return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeCorruptSuperblock, "superblock checksum mismatch")
	}

	sb := &Superblock{
		Magic:                  magic,
		BlockSize:              binary.LittleEndian.Uint32(buf[4:8]),
		SegmentSize:            binary.LittleEndian.Uint32(buf[8:12]),
		NrBlocks:               binary.LittleEndian.Uint64(buf[12:20]),
		NrDataSegments:         binary.LittleEndian.Uint32(buf[20:24]),
		NrIndexSegments:        binary.LittleEndian.Uint32(buf[24:28]),
		IndexRegionOffset:      binary.LittleEndian.Uint64(buf[28:36]),
		JournalRegionOffset:    binary.LittleEndian.Uint64(buf[36:44]),
		CheckpointRegionOffset: binary.LittleEndian.Uint64(buf[44:52]),
		Checksum:               gotSum,
	}
	return sb, nil
}

// Write persists sb to both redundant copies on the metadata device.
func Write(dev *blockdev.Device, sb *Superblock) error {
	buf := sb.MarshalTo()

	full := make([]byte, blockdev.SectorSize)
	copy(full, buf)

	if err := dev.Submit(blockdev.Write, copy0Sector, full); err != nil {
		return err
	}
	return dev.Submit(blockdev.Write, copy1Sector, full)
}

// Read tries copy 0 then copy 1, returning the first that validates.
// If neither validates, it returns ErrorCodeCorruptSuperblock.
func Read(dev *blockdev.Device) (*Superblock, error) {
	buf := make([]byte, blockdev.SectorSize)

	if err := dev.Submit(blockdev.Read, copy0Sector, buf); err == nil {
		if sb, err := Unmarshal(buf); err == nil {
			return sb, nil
		}
	}

	if err := dev.Submit(blockdev.Read, copy1Sector, buf); err == nil {
		if sb, err := Unmarshal(buf); err == nil {
			return sb, nil
		}
	}

	return nil, sderrors.NewStorageError(nil, sderrors.ErrorCodeCorruptSuperblock, "both superblock copies failed validation").
		WithPath(dev.Path())
}
