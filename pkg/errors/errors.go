// Package errors provides a structured error system for the engine.
// Every failure carries a programmatic code plus domain-specific
// context (which LBA, which HBA, which segment, which device path)
// instead of forcing callers to parse a message string.
//
// The system is built around a baseError that every specialized error
// type embeds: ValidationError for construction-time argument checks,
// StorageError for block-device and segment failures, and AuthError
// for AEAD verification failures. Extraction helpers (IsXError,
// AsXError, GetErrorCode) let callers branch on error kind without
// type-switching on unexported types.
package errors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsStorageError reports whether err is, or wraps, a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return stdErrors.As(err, &se)
}

// IsAuthError reports whether err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return stdErrors.As(err, &ae)
}

// AsValidationError extracts a ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsStorageError extracts a StorageError from an error chain.
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsAuthError extracts an AuthError from an error chain.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if stdErrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error that supports
// it, or ErrorCodeInternal for errors that don't carry one.
func GetErrorCode(err error) ErrorCode {
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}
	if se, ok := AsStorageError(err); ok {
		return se.Code()
	}
	if ae, ok := AsAuthError(err); ok {
		return ae.Code()
	}
	var be *baseError
	if stdErrors.As(err, &be) {
		return be.Code()
	}
	return ErrorCodeInternal
}

// GetErrorDetails extracts structured details from any error that
// supports them, or an empty map otherwise.
func GetErrorDetails(err error) map[string]any {
	if ve, ok := AsValidationError(err); ok {
		if details := ve.Details(); details != nil {
			return details
		}
	}
	if se, ok := AsStorageError(err); ok {
		if details := se.Details(); details != nil {
			return details
		}
	}
	if ae, ok := AsAuthError(err); ok {
		if details := ae.Details(); details != nil {
			return details
		}
	}
	var be *baseError
	if stdErrors.As(err, &be) {
		if details := be.Details(); details != nil {
			return details
		}
	}
	return make(map[string]any)
}

// ClassifyDirectoryCreationError analyzes directory creation failures
// and returns an error code that reflects the underlying system
// condition, so callers can distinguish a full disk from a permissions
// problem without string matching.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied, "insufficient permissions to create directory",
		).WithPath(path).WithDetail("operation", "directory_creation")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull, "insufficient disk space to create directory",
				).WithPath(path).WithDetail("operation", "directory_creation")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly, "cannot create directory on read-only filesystem",
				).WithPath(path).WithDetail("operation", "directory_creation")
			}
		}
	}

	return NewStorageError(err, ErrorCodeIO, "failed to create directory").
		WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError analyzes backing-device-file open failures and
// returns a more specific error code than a generic I/O error.
func ClassifyFileOpenError(err error, path string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied, "insufficient permissions to open device file",
		).WithPath(path).WithDetail("operation", "file_open")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull, "insufficient disk space to create device file",
				).WithPath(path).WithDetail("operation", "file_open")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly, "cannot open device file on read-only filesystem",
				).WithPath(path).WithDetail("operation", "file_open")
			}
		}
	}

	return NewStorageError(err, ErrorCodeIO, "failed to open device file").
		WithPath(path).WithDetail("operation", "file_open")
}

// ClassifySyncError analyzes fsync/write failures against a backing
// device file at a given sector offset.
func ClassifySyncError(err error, path string, hba int64) error {
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewStorageError(
					err, ErrorCodeDiskFull, "cannot write: insufficient disk space",
				).WithPath(path).WithHBA(hba).WithDetail("operation", "file_sync")
			case syscall.EROFS:
				return NewStorageError(
					err, ErrorCodeFilesystemReadonly, "cannot write: filesystem is read-only",
				).WithPath(path).WithHBA(hba).WithDetail("operation", "file_sync")
			case syscall.EIO:
				return NewStorageError(
					err, ErrorCodeIO, "I/O error during device write",
				).WithPath(path).WithHBA(hba).WithDetail("operation", "file_sync").WithDetail("severity", "high")
			}
		}
	}

	return NewStorageError(err, ErrorCodeIO, "failed to sync device write").
		WithPath(path).WithHBA(hba).WithDetail("operation", "file_sync")
}
