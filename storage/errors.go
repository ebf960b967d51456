package storage

import (
	"fmt"
)

// ErrorCode represents different types of buffer pool errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Buffer pool errors
	ErrCodeNoEvictableFrame
	ErrCodePagePinned
	ErrCodeInvalidGuard
	ErrCodeFrameOutOfRange

	// Disk errors
	ErrCodeDiskReadFailed
	ErrCodeDiskWriteFailed
	ErrCodePageOutOfBounds
	ErrCodePageCorrupted
	ErrCodeFileNotFound
)

// StorageError represents a buffer pool error with context
type StorageError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a specific error code
func (e *StorageError) Is(target error) bool {
	if t, ok := target.(*StorageError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewStorageError creates a new storage error
func NewStorageError(code ErrorCode, op, message string, err error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Helper functions for common errors

func ErrNoEvictableFrame(op string) *StorageError {
	return NewStorageError(
		ErrCodeNoEvictableFrame,
		op,
		"no evictable frame available in buffer pool",
		nil,
	)
}

func ErrFramePinned(op string, frameID uint32) *StorageError {
	return NewStorageError(
		ErrCodePagePinned,
		op,
		fmt.Sprintf("frame %d is not evictable", frameID),
		nil,
	)
}

func ErrInvalidGuard(op string) *StorageError {
	return NewStorageError(
		ErrCodeInvalidGuard,
		op,
		"guard has been dropped or moved from",
		nil,
	)
}

func ErrFrameOutOfRange(op string, frameID, capacity uint32) *StorageError {
	return NewStorageError(
		ErrCodeFrameOutOfRange,
		op,
		fmt.Sprintf("frame %d out of range (capacity: %d)", frameID, capacity),
		nil,
	)
}

func ErrPageOutOfBounds(op string, pageID uint32, fileSize int64) *StorageError {
	return NewStorageError(
		ErrCodePageOutOfBounds,
		op,
		fmt.Sprintf("page %d out of bounds (file size: %d)", pageID, fileSize),
		nil,
	)
}

func ErrDiskOperation(op string, err error) *StorageError {
	return NewStorageError(
		ErrCodeDiskWriteFailed,
		op,
		"disk operation failed",
		err,
	)
}

func ErrPageCorrupted(op string, got, want uint32) *StorageError {
	return NewStorageError(
		ErrCodePageCorrupted,
		op,
		fmt.Sprintf("page image failed checksum verification (got %08x, expected %08x)", got, want),
		nil,
	)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if se, ok := err.(*StorageError); ok {
		return se.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	if se, ok := err.(*StorageError); ok {
		return se.Code
	}
	return ErrCodeUnknown
}
