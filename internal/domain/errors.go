package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeInvalidSyncToken ErrorCode = "INVALID_SYNC_TOKEN"
	CodeVersionConflict  ErrorCode = "VERSION_CONFLICT"
	CodeLockTimeout      ErrorCode = "LOCK_TIMEOUT"
	CodeStorageFailure   ErrorCode = "STORAGE_FAILURE"
	CodeDeviceNotBound   ErrorCode = "DEVICE_NOT_BOUND"
	CodeNotFound         ErrorCode = "NOT_FOUND"
)

// SyncError is the error type surfaced by the sync pipeline.
type SyncError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches any SyncError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation       = &SyncError{Code: CodeValidation, Message: "validation failed"}
	ErrInvalidSyncToken = &SyncError{Code: CodeInvalidSyncToken, Message: "sync token is invalid or expired"}
	ErrVersionConflict  = &SyncError{Code: CodeVersionConflict, Message: "entity version changed concurrently"}
	ErrLockTimeout      = &SyncError{Code: CodeLockTimeout, Message: "entity lock not acquired"}
	ErrStorageFailure   = &SyncError{Code: CodeStorageFailure, Message: "storage unavailable"}
	ErrDeviceNotBound   = &SyncError{Code: CodeDeviceNotBound, Message: "device is not bound to user"}
	ErrNotFound         = &SyncError{Code: CodeNotFound, Message: "not found"}
)

func NewSyncError(code ErrorCode, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Err: err}
}

func ValidationError(format string, args ...any) *SyncError {
	return &SyncError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func StorageError(message string, err error) *SyncError {
	return &SyncError{Code: CodeStorageFailure, Message: message, Err: err}
}

// CodeOf returns the code of the first SyncError in err's chain.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
