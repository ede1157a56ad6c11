package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/gorados/gorados/internal/native"
)

// MapResult translates a native signed return code. A non-negative code is a
// success and comes back as the count with a nil error; a negative code is a
// negated POSIX errno and becomes the corresponding RadosError. Total: every
// input yields a defined result, unrecognized errnos map to UNKNOWN with the
// raw value preserved.
func MapResult(code int) (int, error) {
	if code >= 0 {
		return code, nil
	}
	return 0, FromErrno(-code)
}

// MapCode is MapResult for calls whose count is not meaningful.
func MapCode(code int) error {
	_, err := MapResult(code)
	return err
}

// FromErrno builds the RadosError for a positive POSIX errno.
func FromErrno(errno int) *RadosError {
	var (
		code ErrorCode
		msg  string
	)
	switch errno {
	case native.ENOENT:
		code, msg = ErrCodeNotFound, "object or pool not found"
	case native.EPERM, native.EACCES:
		code, msg = ErrCodePermissionDenied, "operation not permitted"
	case native.ENOSPC:
		code, msg = ErrCodeNoSpace, "cluster out of space"
	case native.EEXIST:
		code, msg = ErrCodeExists, "already exists"
	case native.EINVAL:
		code, msg = ErrCodeInvalid, "invalid argument"
	case native.EINTR:
		code, msg = ErrCodeInterrupted, "operation interrupted"
	case native.ETIMEDOUT:
		code, msg = ErrCodeTimeout, "operation timed out"
	case native.ECANCELED:
		code, msg = ErrCodeCanceled, "operation canceled"
	case native.ENOTCONN:
		code, msg = ErrCodeNotConnected, "cluster session not connected"
	default:
		code, msg = ErrCodeUnknown, fmt.Sprintf("native error (errno %d)", errno)
	}
	return New(code, msg).WithErrno(errno)
}

// Predicates for the conditions callers branch on.

func IsNotFound(err error) bool       { return hasCode(err, ErrCodeNotFound) }
func IsExists(err error) bool         { return hasCode(err, ErrCodeExists) }
func IsTimeout(err error) bool        { return hasCode(err, ErrCodeTimeout) }
func IsCanceled(err error) bool       { return hasCode(err, ErrCodeCanceled) }
func IsInvalidState(err error) bool   { return hasCode(err, ErrCodeInvalidState) }
func IsNotConnected(err error) bool   { return hasCode(err, ErrCodeNotConnected) }
func IsPermission(err error) bool     { return hasCode(err, ErrCodePermissionDenied) }
func IsBufferTooSmall(err error) bool { return hasCode(err, ErrCodeBufferTooSmall) }

func hasCode(err error, code ErrorCode) bool {
	var re *RadosError
	if stderrors.As(err, &re) {
		return re.Code == code
	}
	return false
}
