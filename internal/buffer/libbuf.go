package buffer

import (
	"sync/atomic"

	"github.com/gorados/gorados/internal/native"
)

// LibBuffer wraps a library-owned response buffer. The memory belongs to the
// native allocator; it is freed by exactly one call through the driver's
// BufRelease, never by the Go runtime.
type LibBuffer struct {
	driver   native.Driver
	ref      native.BufRef
	released atomic.Bool
}

// NewLibBuffer adopts a native buffer reference.
func NewLibBuffer(d native.Driver, ref native.BufRef) *LibBuffer {
	return &LibBuffer{driver: d, ref: ref}
}

// Bytes returns the buffer contents. The view is invalid after Release.
func (b *LibBuffer) Bytes() []byte {
	if b == nil || b.released.Load() {
		return nil
	}
	return b.driver.BufData(b.ref)
}

// Copy returns a Go-owned copy of the contents, safe to hold after Release.
func (b *LibBuffer) Copy() []byte {
	data := b.Bytes()
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}

// Release returns the memory to the native allocator. Idempotent: the native
// free runs exactly once no matter how many exit paths call Release.
func (b *LibBuffer) Release() {
	if b == nil || b.released.Swap(true) {
		return
	}
	b.driver.BufRelease(b.ref)
}
