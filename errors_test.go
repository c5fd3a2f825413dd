package nrbd

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	err := NewError("handshake", ErrCodeVersionMismatch, "incompatible version")
	require.Equal(t, "handshake", err.Op)
	require.Equal(t, ErrCodeVersionMismatch, err.Code)
	require.Equal(t, "nrbd: incompatible version (op=handshake)", err.Error())
}

func TestNewErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("dial", ErrCodeBrokenPipe, syscall.EPIPE)
	require.Equal(t, syscall.EPIPE, err.Errno)
	require.Equal(t, ErrCodeBrokenPipe, err.Code)
}

func TestNewDeviceError(t *testing.T) {
	err := NewDeviceError("WriteAt", 3, ErrCodeDeviceBusy, "device in use")
	require.Equal(t, uint32(3), err.Minor)
	require.Equal(t, "nrbd: device in use (op=WriteAt)", err.Error())
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewError("inner", ErrCodeTimeout, "timed out")
	wrapped := WrapError("outer", inner)
	require.Equal(t, "outer", wrapped.Op)
	require.Equal(t, ErrCodeTimeout, wrapped.Code)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	wrapped := WrapError("Close", syscall.ENOENT)
	require.Equal(t, ErrCodeDeviceNotFound, wrapped.Code)
	require.True(t, errors.Is(wrapped, syscall.ENOENT))
}

func TestWrapErrorGenericFallsBackToIOError(t *testing.T) {
	wrapped := WrapError("ReadAt", errors.New("disk exploded"))
	require.Equal(t, ErrCodeIOError, wrapped.Code)
}

func TestWrapErrorNilReturnsNil(t *testing.T) {
	require.Nil(t, WrapError("noop", nil))
}

func TestErrorIsComparesByCode(t *testing.T) {
	var err error = NewError("WriteAt", ErrCodeDeviceBusy, "busy")
	require.True(t, errors.Is(err, ErrDeviceBusy))
	require.False(t, errors.Is(err, ErrTimeout))
}

func TestIsCode(t *testing.T) {
	err := NewError("op", ErrCodeTimeout, "timed out")
	require.True(t, IsCode(err, ErrCodeTimeout))
	require.False(t, IsCode(err, ErrCodeIOError))
	require.False(t, IsCode(nil, ErrCodeTimeout))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("op", ErrCodeIOError, syscall.EIO)
	require.True(t, IsErrno(err, syscall.EIO))
	require.False(t, IsErrno(err, syscall.EPERM))
}

func TestMapErrnoToCode(t *testing.T) {
	cases := map[syscall.Errno]ErrorCode{
		syscall.ENOENT:     ErrCodeDeviceNotFound,
		syscall.EBUSY:      ErrCodeDeviceBusy,
		syscall.EINVAL:     ErrCodeInvalidParameters,
		syscall.EADDRINUSE: ErrCodeAddressConflict,
		syscall.EPERM:      ErrCodePermissionDenied,
		syscall.ENOMEM:     ErrCodeInsufficientMemory,
		syscall.ETIMEDOUT:  ErrCodeTimeout,
		syscall.EPIPE:      ErrCodeBrokenPipe,
	}
	for errno, want := range cases {
		require.Equal(t, want, mapErrnoToCode(errno))
	}
}
