package checkpoint

import (
	"github.com/nilotpal-labs/sworndisk/internal/bitmap"
	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// SVT (Segment Validity Table) tracks which segments, data or index,
// are currently allocated. Segment 0 is reserved at format time and
// never handed out by Alloc, resolving the write-cursor-versus-SVT-bit-0
// ambiguity by convention: segment 0 is always valid.
type SVT struct {
	bits *bitmap.Bitmap
}

// NewSVT allocates an SVT over nrSegments segments with segment 0
// reserved.
func NewSVT(nrSegments uint) *SVT {
	b := bitmap.New(nrSegments)
	if nrSegments > 0 {
		b.Set(0)
	}
	return &SVT{bits: b}
}

// Alloc returns the first free segment index and marks it used.
func (s *SVT) Alloc() (uint, error) {
	idx, err := s.bits.FirstZero()
	if err != nil {
		return 0, err
	}
	s.bits.Set(idx)
	return idx, nil
}

// Release marks a segment index free again.
func (s *SVT) Release(idx uint) {
	s.bits.Clear(idx)
}

// IsAllocated reports whether a segment index is currently in use.
func (s *SVT) IsAllocated(idx uint) bool {
	return s.bits.Test(idx)
}

// Len returns the number of segments this SVT tracks.
func (s *SVT) Len() uint { return s.bits.Len() }

// MarshalTo encodes the SVT as a flat bit vector.
func (s *SVT) MarshalTo() []byte { return s.bits.MarshalTo() }

// UnmarshalSVT decodes an SVT previously produced by MarshalTo.
func UnmarshalSVT(data []byte, nrSegments uint) (*SVT, error) {
	b, err := bitmap.UnmarshalFrom(data, nrSegments)
	if err != nil {
		return nil, sderrors.NewStorageError(err, sderrors.ErrorCodeInternal, "failed to decode segment validity table")
	}
	return &SVT{bits: b}, nil
}
