package errors

// StorageError is a specialized error type for block-device and
// segment-level operations. It embeds baseError to inherit chaining
// and structured details, then adds fields that pinpoint exactly
// where on the device the problem occurred.
type StorageError struct {
	*baseError
	hba     int64  // Physical sector address involved, if known.
	segment uint32 // Data or index segment index involved, if known.
	path    string // Backing device file path.
}

// NewStorageError creates a new storage-specific error.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// WithHBA records the physical sector address involved in the error.
func (se *StorageError) WithHBA(hba int64) *StorageError {
	se.hba = hba
	return se
}

// WithSegment records which data or index segment was involved.
func (se *StorageError) WithSegment(segment uint32) *StorageError {
	se.segment = segment
	return se
}

// WithPath captures which backing device file was being processed.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// HBA returns the physical sector address where the error occurred.
func (se *StorageError) HBA() int64 {
	return se.hba
}

// Segment returns the segment index where the error occurred.
func (se *StorageError) Segment() uint32 {
	return se.segment
}

// Path returns the backing device file path involved in the error.
func (se *StorageError) Path() string {
	return se.path
}
