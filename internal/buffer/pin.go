package buffer

import (
	"sync"
	"sync/atomic"
)

// Pin holds a reference to a caller-owned buffer for as long as a pending
// asynchronous operation may touch it. The native library borrows the memory
// at submission; the pin guarantees the Go side keeps it reachable and
// accounted for until the completion settles.
type Pin struct {
	registry *PinRegistry
	buf      []byte
	released atomic.Bool
}

// Bytes returns the pinned buffer.
func (p *Pin) Bytes() []byte {
	return p.buf
}

// Unpin drops the reference. Safe to call more than once; only the first
// call adjusts the accounting.
func (p *Pin) Unpin() {
	if p == nil || p.released.Swap(true) {
		return
	}
	p.registry.remove(len(p.buf))
}

// PinRegistry tracks every buffer currently pinned by a pending completion.
// The byte and pin counts are exported so tests and metrics can verify that
// nothing stays pinned after all completions settle.
type PinRegistry struct {
	mu          sync.Mutex
	pinnedBytes int64
	pinnedCount int64
}

// NewPinRegistry returns an empty registry.
func NewPinRegistry() *PinRegistry {
	return &PinRegistry{}
}

// Pin registers buf and returns the handle that releases it.
func (r *PinRegistry) Pin(buf []byte) *Pin {
	r.mu.Lock()
	r.pinnedBytes += int64(len(buf))
	r.pinnedCount++
	r.mu.Unlock()
	return &Pin{registry: r, buf: buf}
}

func (r *PinRegistry) remove(n int) {
	r.mu.Lock()
	r.pinnedBytes -= int64(n)
	r.pinnedCount--
	r.mu.Unlock()
}

// PinnedBytes reports the total size of currently pinned buffers.
func (r *PinRegistry) PinnedBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinnedBytes
}

// PinnedCount reports how many buffers are currently pinned.
func (r *PinRegistry) PinnedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinnedCount
}
