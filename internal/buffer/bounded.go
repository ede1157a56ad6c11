package buffer

import (
	"github.com/gorados/gorados/pkg/errors"
)

// CheckBounded validates a requested output size against the capacity the
// caller is prepared to hold, before any bytes cross the boundary. A size
// that does not fit fails locally with BUFFER_TOO_SMALL; nothing is read or
// written on that path.
func CheckBounded(need, capacity int) error {
	if need < 0 {
		return errors.Newf(errors.ErrCodeInvalid, "negative size %d", need)
	}
	if need > capacity {
		return errors.Newf(errors.ErrCodeBufferTooSmall,
			"need %d bytes but only %d are available", need, capacity)
	}
	return nil
}

// Bounded re-slices buf to the requested size after validating it fits.
func Bounded(buf []byte, need int) ([]byte, error) {
	if err := CheckBounded(need, cap(buf)); err != nil {
		return nil, err
	}
	return buf[:need], nil
}
