// Package errors provides the error taxonomy shared by the store, the mutation
// gateway and the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local storage errors
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrMigration          ErrorCode = "MIGRATION_FAILED"
	ErrCryptoFailed       ErrorCode = "CRYPTO_FAILED"

	// Remote errors
	ErrNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrRemoteRejected     ErrorCode = "REMOTE_REJECTED"
	ErrRemoteNotFound     ErrorCode = "REMOTE_NOT_FOUND"
	ErrRemoteUnavailable  ErrorCode = "REMOTE_UNAVAILABLE"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether err, or any error it wraps, is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when err carries no code.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether a failure with this code is left for the next
// triggered sync pass.
func Retryable(code ErrorCode) bool {
	switch code {
	case ErrNetworkUnreachable, ErrTimeout, ErrRemoteUnavailable, ErrRemoteRejected:
		return true
	default:
		return false
	}
}
