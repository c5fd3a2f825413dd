package nrbd

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured replication error with context and errno
// mapping, carried over from the teacher's Error type and re-pointed at
// spec.md §7's error taxonomy.
type Error struct {
	Op    string        // Operation that failed (e.g., "CONNECT", "HANDSHAKE")
	Minor uint32         // Device minor number (0 if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Underlying errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Minor != 0 {
		parts = append(parts, fmt.Sprintf("minor=%d", e.Minor))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nrbd: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nrbd: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support comparing by error category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories, following spec.md §7's
// taxonomy: transient network, protocol violation, configuration, local
// I/O, resource exhaustion, and incompatibility.
type ErrorCode string

const (
	// Configuration errors (spec.md §7 "Configuration"): ioctl-equivalent
	// calls return these without any state change.
	ErrCodeLowerAlreadyInUse ErrorCode = "lower device already in use"
	ErrCodeLowerOpenFailed   ErrorCode = "lower device open failed"
	ErrCodeLowerTooSmall     ErrorCode = "lower device too small"
	ErrCodeAddressConflict   ErrorCode = "address already in use"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"

	// Transient network errors.
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeBrokenPipe ErrorCode = "broken pipe"

	// Protocol violation.
	ErrCodeProtocolViolation ErrorCode = "protocol violation"

	// Incompatibility.
	ErrCodeVersionMismatch  ErrorCode = "version mismatch"
	ErrCodeProtocolMismatch ErrorCode = "protocol mismatch"
	ErrCodeBothPrimary      ErrorCode = "both peers claim primary"

	// Local I/O / resource exhaustion.
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeDeviceOffline      ErrorCode = "device offline"
	ErrCodeTransferLogOverrun ErrorCode = "transfer log overrun"
	ErrCodeSyncLogOverrun     ErrorCode = "sync log overrun"

	// Generic / not-yet-connected states.
	ErrCodeNotConfigured     ErrorCode = "device not configured"
	ErrCodeDeviceNotFound    ErrorCode = "device not found"
	ErrCodeDeviceBusy        ErrorCode = "device busy"
	ErrCodePermissionDenied  ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
)

// Sentinel errors for common comparisons via errors.Is.
var (
	ErrInvalidParameters = NewError("", ErrCodeInvalidParameters, "invalid parameters")
	ErrNotConfigured     = NewError("", ErrCodeNotConfigured, "device not configured")
	ErrDeviceBusy        = NewError("", ErrCodeDeviceBusy, "device busy")
	ErrTimeout           = NewError("", ErrCodeTimeout, "timeout")
	ErrBothPrimary       = NewError("", ErrCodeBothPrimary, "both peers claim primary")
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error with an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewDeviceError creates a new device-specific error.
func NewDeviceError(op string, minor uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Minor: minor, Code: code, Msg: msg}
}

// WrapError wraps an existing error with replication-engine context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Minor: ue.Minor, Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a syscall errno to an ErrorCode.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.EADDRINUSE:
		return ErrCodeAddressConflict
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.EPIPE, syscall.ECONNRESET:
		return ErrCodeBrokenPipe
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
