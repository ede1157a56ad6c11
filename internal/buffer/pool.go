// Package buffer implements the three ownership regimes for memory crossing
// the native boundary: pooled scratch buffers, pinned caller-owned buffers
// referenced by in-flight asynchronous operations, and library-owned buffers
// that must go back through the native free.
package buffer

import (
	"sync"
)

// BytePool pools byte slices in size buckets to reduce GC pressure on the
// hot read/write paths.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex
}

// NewBytePool creates a pool with buckets sized for typical object I/O.
func NewBytePool() *BytePool {
	sizes := []int{
		1024,    // 1KB
		4096,    // 4KB
		16384,   // 16KB
		65536,   // 64KB
		262144,  // 256KB
		1048576, // 1MB
		4194304, // 4MB
	}

	pools := make(map[int]*sync.Pool)
	for _, size := range sizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of exactly the requested length, backed by the
// smallest bucket that fits.
func (p *BytePool) Get(size int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			if pool, exists := p.pools[bucketSize]; exists {
				buf := pool.Get().([]byte)
				return buf[:size]
			}
		}
	}

	// Oversized requests are allocated directly and never pooled.
	return make([]byte, size)
}

// Put returns a byte slice to its bucket. Buffers that do not match a bucket
// capacity are left to the GC.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pool, exists := p.pools[capacity]; exists {
		buf = buf[:capacity]
		for i := range buf {
			buf[i] = 0
		}
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}
		pool.Put(buf)
	}
}

var defaultBytePool = NewBytePool()

// GetBuffer gets a buffer from the default global pool.
func GetBuffer(size int) []byte {
	return defaultBytePool.Get(size)
}

// PutBuffer returns a buffer to the default global pool.
func PutBuffer(buf []byte) {
	defaultBytePool.Put(buf)
}
