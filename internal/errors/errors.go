// Package errors provides error code definitions shared across the sync client.
package errors

import "fmt"

// ErrorCode identifies a class of failure so callers can branch on it
// without string matching.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorage    ErrorCode = "STORAGE_ERROR"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Network and remote errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrTimeout        ErrorCode = "NETWORK_TIMEOUT"
	ErrRemoteRejected ErrorCode = "REMOTE_REJECTED"

	// Sync errors
	ErrSyncFailed      ErrorCode = "SYNC_FAILED"
	ErrDrainInProgress ErrorCode = "DRAIN_IN_PROGRESS"
	ErrLeaseHeld       ErrorCode = "LEASE_HELD"
	ErrUnknownOp       ErrorCode = "UNKNOWN_OPERATION_TYPE"
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal if err carries none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}

// IsConnectivity reports whether err is a transient connectivity failure
// (network error or timeout) that should trigger offline handling.
func IsConnectivity(err error) bool {
	return Is(err, ErrNetwork) || Is(err, ErrTimeout)
}
