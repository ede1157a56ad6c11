package rados

import (
	"context"
	"fmt"
	"io"

	"github.com/gorados/gorados/internal/buffer"
)

// ObjectReader reads an object sequentially as an io.Reader, keeping one
// chunk of readahead in flight so the next chunk is usually already on its
// way when the caller drains the current one.
type ObjectReader struct {
	ioctx *IOContext
	oid   string
	chunk int

	buf []byte // chunk being consumed (pooled)
	pos int
	eof bool
	err error

	pending *Completion
	pbuf    []byte // chunk being fetched (pooled, pinned by pending)
	poff    uint64

	next   uint64 // offset of the next prefetch
	closed bool
}

// NewObjectReader opens a sequential reader over oid. The chunk size comes
// from the cluster configuration.
func NewObjectReader(ioctx *IOContext, oid string) *ObjectReader {
	return &ObjectReader{
		ioctx: ioctx,
		oid:   oid,
		chunk: ioctx.c.cfg.IO.ChunkSize,
	}
}

func (r *ObjectReader) prefetch() error {
	r.pbuf = buffer.GetBuffer(r.chunk)
	comp, err := r.ioctx.AioRead(r.oid, r.pbuf, r.next)
	if err != nil {
		buffer.PutBuffer(r.pbuf)
		r.pbuf = nil
		return err
	}
	r.pending = comp
	r.poff = r.next
	r.next += uint64(r.chunk)
	return nil
}

// collect waits for the pending chunk and makes it current.
func (r *ObjectReader) collect() error {
	n, err := r.pending.Wait(context.Background())
	relErr := r.pending.Release()
	r.pending = nil
	if err == nil {
		err = relErr
	}
	if err != nil {
		buffer.PutBuffer(r.pbuf)
		r.pbuf = nil
		return err
	}

	if old := r.buf; old != nil {
		buffer.PutBuffer(old)
	}
	r.buf = r.pbuf[:n]
	r.pos = 0
	r.pbuf = nil

	if n < r.chunk {
		// Short chunk means end of object.
		r.eof = true
		return nil
	}
	// Full chunk: keep the pipeline primed.
	return r.prefetch()
}

// Read implements io.Reader.
func (r *ObjectReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read %s: reader closed", r.oid)
	}
	if r.err != nil {
		return 0, r.err
	}

	for r.pos >= len(r.buf) {
		if r.eof {
			return 0, io.EOF
		}
		if r.pending == nil {
			if err := r.prefetch(); err != nil {
				r.err = err
				return 0, err
			}
		}
		if err := r.collect(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// ReadAt implements io.ReaderAt with a direct positioned read. It does not
// touch the sequential readahead state, so it is safe to mix with Read.
func (r *ObjectReader) ReadAt(p []byte, off int64) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read %s: reader closed", r.oid)
	}
	n, err := r.ioctx.Read(r.oid, p, uint64(off))
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close drains any in-flight read and returns pooled buffers. Idempotent.
func (r *ObjectReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.pending != nil {
		// Cancellation is best-effort; the completion settles either
		// way and only then may the pinned buffer be recycled.
		_ = r.pending.Cancel()
		_, _ = r.pending.Wait(context.Background())
		_ = r.pending.Release()
		r.pending = nil
		buffer.PutBuffer(r.pbuf)
		r.pbuf = nil
	}
	if r.buf != nil {
		buffer.PutBuffer(r.buf)
		r.buf = nil
	}
	return nil
}

// ObjectWriter writes an object sequentially as an io.Writer. Caller data is
// copied into pooled chunks and written asynchronously, with a bounded
// number of chunks in flight; Close flushes everything and reports the
// first failure.
type ObjectWriter struct {
	ioctx       *IOContext
	oid         string
	chunk       int
	maxInFlight int

	off    uint64
	cur    []byte // partially filled chunk (pooled)
	curLen int

	inflight []writeInFlight
	err      error
	closed   bool
}

type writeInFlight struct {
	comp *Completion
	buf  []byte
}

// NewObjectWriter opens a sequential writer over oid, replacing the object
// from offset zero. Chunk size and in-flight bound come from the cluster
// configuration.
func NewObjectWriter(ioctx *IOContext, oid string) *ObjectWriter {
	return &ObjectWriter{
		ioctx:       ioctx,
		oid:         oid,
		chunk:       ioctx.c.cfg.IO.ChunkSize,
		maxInFlight: ioctx.c.cfg.IO.MaxInFlight,
	}
}

// Write implements io.Writer. The data is copied before Write returns, so
// the caller may recycle p immediately.
func (w *ObjectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write %s: writer closed", w.oid)
	}
	if w.err != nil {
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		if w.cur == nil {
			w.cur = buffer.GetBuffer(w.chunk)
			w.curLen = 0
		}
		n := copy(w.cur[w.curLen:], p)
		w.curLen += n
		written += n
		p = p[n:]

		if w.curLen == w.chunk {
			if err := w.dispatchChunk(); err != nil {
				w.err = err
				return written, err
			}
		}
	}
	return written, nil
}

// dispatchChunk submits the current chunk and enforces the in-flight bound.
func (w *ObjectWriter) dispatchChunk() error {
	comp, err := w.ioctx.AioWrite(w.oid, w.cur[:w.curLen], w.off)
	if err != nil {
		buffer.PutBuffer(w.cur)
		w.cur = nil
		return err
	}
	w.inflight = append(w.inflight, writeInFlight{comp: comp, buf: w.cur})
	w.off += uint64(w.curLen)
	w.cur = nil
	w.curLen = 0

	for len(w.inflight) >= w.maxInFlight {
		if err := w.reapOldest(); err != nil {
			return err
		}
	}
	return nil
}

// reapOldest waits for the oldest in-flight chunk and recycles its buffer.
func (w *ObjectWriter) reapOldest() error {
	f := w.inflight[0]
	w.inflight = w.inflight[1:]

	_, err := f.comp.Wait(context.Background())
	relErr := f.comp.Release()
	buffer.PutBuffer(f.buf)
	if err != nil {
		return err
	}
	return relErr
}

// Flush submits any partial chunk and waits for every in-flight write.
func (w *ObjectWriter) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.curLen > 0 {
		if err := w.dispatchChunk(); err != nil {
			w.err = err
			return err
		}
	}
	for len(w.inflight) > 0 {
		if err := w.reapOldest(); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}

// Close flushes and seals the writer. Idempotent; returns the sticky error
// if any write failed.
func (w *ObjectWriter) Close() error {
	if w.closed {
		return w.err
	}
	flushErr := w.Flush()
	w.closed = true
	if w.cur != nil {
		buffer.PutBuffer(w.cur)
		w.cur = nil
	}
	// Never leave completions pending past Close, even after a failure.
	for _, f := range w.inflight {
		_, _ = f.comp.Wait(context.Background())
		_ = f.comp.Release()
		buffer.PutBuffer(f.buf)
	}
	w.inflight = nil
	return flushErr
}
