package errors

// AuthError is a specialized error type for AEAD verification failures.
// It embeds baseError to inherit chaining and structured details, then
// records which logical/physical block failed to authenticate so the
// caller can report precisely which data may have been tampered with.
type AuthError struct {
	*baseError
	lba int64 // Logical block address being read, if known.
	hba int64 // Physical sector address being read, if known.
}

// NewAuthError creates a new AEAD-verification error.
func NewAuthError(err error, msg string) *AuthError {
	return &AuthError{baseError: NewBaseError(err, ErrorCodeAuth, msg)}
}

// WithLBA records the logical block address involved in the failure.
func (ae *AuthError) WithLBA(lba int64) *AuthError {
	ae.lba = lba
	return ae
}

// WithHBA records the physical sector address involved in the failure.
func (ae *AuthError) WithHBA(hba int64) *AuthError {
	ae.hba = hba
	return ae
}

// LBA returns the logical block address involved in the failure.
func (ae *AuthError) LBA() int64 {
	return ae.lba
}

// HBA returns the physical sector address involved in the failure.
func (ae *AuthError) HBA() int64 {
	return ae.hba
}
