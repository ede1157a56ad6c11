package rados

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorados/gorados/internal/buffer"
	"github.com/gorados/gorados/internal/native"
	"github.com/gorados/gorados/pkg/errors"
)

// IOContext scopes object operations to one pool. It can additionally be
// bound to a namespace and a read snapshot; both are cheap metadata
// mutations on the context, guarded for single-writer use.
//
// An IOContext must be closed before its parent cluster shuts down; the
// cluster enforces this by closing stragglers itself during Shutdown.
type IOContext struct {
	c    *Cluster
	ref  native.IoctxRef
	pool string

	mu     sync.Mutex
	closed bool
}

// Pool returns the pool this context is bound to.
func (io *IOContext) Pool() string {
	return io.pool
}

// guard returns the native ref, or INVALID_STATE once the context is closed.
func (io *IOContext) guard(op string) (native.IoctxRef, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	if io.closed {
		return 0, errors.New(errors.ErrCodeInvalidState, "io context is closed").
			WithOperation(op).WithDetail("pool", io.pool)
	}
	return io.ref, nil
}

// Close releases the context. The native destroy runs exactly once; later
// calls return nil.
func (io *IOContext) Close() error {
	io.mu.Lock()
	if io.closed {
		io.mu.Unlock()
		return nil
	}
	io.closed = true
	io.mu.Unlock()

	io.c.drv.IoctxDestroy(io.ref)
	io.c.removeIOContext(io)
	return nil
}

// SetNamespace rebinds the context to a namespace within the pool. The empty
// string selects the default namespace.
func (io *IOContext) SetNamespace(namespace string) error {
	ref, err := io.guard("set_namespace")
	if err != nil {
		return err
	}
	return errors.MapCode(io.c.drv.SetNamespace(ref, namespace))
}

// SetReadSnapshot directs subsequent reads at the given snapshot id. Zero
// restores reads from the head version.
func (io *IOContext) SetReadSnapshot(snap uint64) error {
	ref, err := io.guard("set_read_snapshot")
	if err != nil {
		return err
	}
	return errors.MapCode(io.c.drv.SnapSetRead(ref, snap))
}

// Write writes data at the given object offset, extending the object as
// needed, and returns the number of bytes written.
func (io *IOContext) Write(oid string, data []byte, offset uint64) (int, error) {
	ref, err := io.guard("write")
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := errors.MapResult(io.c.drv.Write(ref, oid, data, offset))
	io.c.observe("write", start, err)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", oid, err)
	}
	return n, nil
}

// WriteFull replaces the object's entire contents.
func (io *IOContext) WriteFull(oid string, data []byte) error {
	ref, err := io.guard("write_full")
	if err != nil {
		return err
	}
	start := time.Now()
	err = errors.MapCode(io.c.drv.WriteFull(ref, oid, data))
	io.c.observe("write_full", start, err)
	if err != nil {
		return fmt.Errorf("write full %s: %w", oid, err)
	}
	return nil
}

// Append appends data to the object.
func (io *IOContext) Append(oid string, data []byte) error {
	ref, err := io.guard("append")
	if err != nil {
		return err
	}
	start := time.Now()
	err = errors.MapCode(io.c.drv.Append(ref, oid, data))
	io.c.observe("append", start, err)
	if err != nil {
		return fmt.Errorf("append %s: %w", oid, err)
	}
	return nil
}

// Read fills buf starting at the given object offset and returns the bytes
// read. A short count at end-of-object is not an error.
func (io *IOContext) Read(oid string, buf []byte, offset uint64) (int, error) {
	ref, err := io.guard("read")
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := errors.MapResult(io.c.drv.Read(ref, oid, buf, offset))
	io.c.observe("read", start, err)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", oid, err)
	}
	return n, nil
}

// Remove deletes the object.
func (io *IOContext) Remove(oid string) error {
	ref, err := io.guard("remove")
	if err != nil {
		return err
	}
	start := time.Now()
	err = errors.MapCode(io.c.drv.Remove(ref, oid))
	io.c.observe("remove", start, err)
	if err != nil {
		return fmt.Errorf("remove %s: %w", oid, err)
	}
	return nil
}

// Truncate resizes the object, zero-filling on growth.
func (io *IOContext) Truncate(oid string, size uint64) error {
	ref, err := io.guard("truncate")
	if err != nil {
		return err
	}
	err = errors.MapCode(io.c.drv.Trunc(ref, oid, size))
	if err != nil {
		return fmt.Errorf("truncate %s: %w", oid, err)
	}
	return nil
}

// ObjectStat describes one object.
type ObjectStat struct {
	Size    uint64
	ModTime time.Time
}

// Stat reports the object's size and modification time.
func (io *IOContext) Stat(oid string) (ObjectStat, error) {
	ref, err := io.guard("stat")
	if err != nil {
		return ObjectStat{}, err
	}
	st, code := io.c.drv.Stat(ref, oid)
	if err := errors.MapCode(code); err != nil {
		return ObjectStat{}, fmt.Errorf("stat %s: %w", oid, err)
	}
	return ObjectStat{Size: st.Size, ModTime: time.Unix(st.MTime, 0)}, nil
}

// GetXattr returns the value of one extended attribute.
func (io *IOContext) GetXattr(oid, name string) ([]byte, error) {
	ref, err := io.guard("get_xattr")
	if err != nil {
		return nil, err
	}

	size := 4096
	for {
		buf := buffer.GetBuffer(size)
		n := io.c.drv.GetXattr(ref, oid, name, buf)
		if n == -native.ERANGE {
			buffer.PutBuffer(buf)
			size *= 2
			continue
		}
		if _, err := errors.MapResult(n); err != nil {
			buffer.PutBuffer(buf)
			return nil, fmt.Errorf("get xattr %s on %s: %w", name, oid, err)
		}
		val := append([]byte(nil), buf[:n]...)
		buffer.PutBuffer(buf)
		return val, nil
	}
}

// SetXattr sets one extended attribute.
func (io *IOContext) SetXattr(oid, name string, value []byte) error {
	ref, err := io.guard("set_xattr")
	if err != nil {
		return err
	}
	if err := errors.MapCode(io.c.drv.SetXattr(ref, oid, name, value)); err != nil {
		return fmt.Errorf("set xattr %s on %s: %w", name, oid, err)
	}
	return nil
}

// RmXattr removes one extended attribute.
func (io *IOContext) RmXattr(oid, name string) error {
	ref, err := io.guard("rm_xattr")
	if err != nil {
		return err
	}
	if err := errors.MapCode(io.c.drv.RmXattr(ref, oid, name)); err != nil {
		return fmt.Errorf("rm xattr %s on %s: %w", name, oid, err)
	}
	return nil
}

// Xattrs opens an iterator over the object's extended attributes.
func (io *IOContext) Xattrs(oid string) (*XattrIter, error) {
	ref, err := io.guard("xattrs")
	if err != nil {
		return nil, err
	}
	it, code := io.c.drv.XattrsOpen(ref, oid)
	if err := errors.MapCode(code); err != nil {
		return nil, fmt.Errorf("open xattr iterator on %s: %w", oid, err)
	}
	return &XattrIter{io: io, ref: it}, nil
}

// ListObjects opens a lazy iterator over the objects visible to this
// context (its pool and namespace). Each call opens a fresh native cursor,
// so iteration is restartable.
func (io *IOContext) ListObjects() (*ObjectIter, error) {
	ref, err := io.guard("list_objects")
	if err != nil {
		return nil, err
	}
	l, code := io.c.drv.ListOpen(ref)
	if err := errors.MapCode(code); err != nil {
		return nil, fmt.Errorf("open object listing: %w", err)
	}
	return &ObjectIter{io: io, ref: l}, nil
}

// AioWrite starts an asynchronous write. data is pinned until the returned
// completion settles; the caller must not recycle it earlier.
func (io *IOContext) AioWrite(oid string, data []byte, offset uint64) (*Completion, error) {
	return io.submitAio("aio_write", data, func(ref native.IoctxRef, comp native.CompletionRef) int {
		return io.c.drv.AioWrite(ref, comp, oid, data, offset)
	})
}

// AioRead starts an asynchronous read into buf. buf is pinned until the
// returned completion settles; the settled count says how much was filled.
func (io *IOContext) AioRead(oid string, buf []byte, offset uint64) (*Completion, error) {
	return io.submitAio("aio_read", buf, func(ref native.IoctxRef, comp native.CompletionRef) int {
		return io.c.drv.AioRead(ref, comp, oid, buf, offset)
	})
}

// submitAio is the one submission path: register a completion, pin the
// caller's buffer, dispatch. A dispatch failure unwinds all three before
// returning, so nothing stays registered or pinned.
func (io *IOContext) submitAio(op string, buf []byte, dispatch func(native.IoctxRef, native.CompletionRef) int) (*Completion, error) {
	ref, err := io.guard(op)
	if err != nil {
		return nil, err
	}

	comp, err := io.c.register(io, op)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	comp.pin = io.c.pins.Pin(buf)
	io.c.met.SetPinnedBytes(io.c.pins.PinnedBytes())

	if code := dispatch(ref, comp.ref); code < 0 {
		comp.abort()
		io.c.met.SetPinnedBytes(io.c.pins.PinnedBytes())
		return nil, fmt.Errorf("%s: %w", op, errors.FromErrno(-code))
	}
	io.c.met.CompletionStarted()
	return comp, nil
}

// XattrIter iterates over an object's extended attributes. The native
// iterator is released by Close, which Next calls automatically when the
// sequence ends.
type XattrIter struct {
	io     *IOContext
	ref    native.XattrIterRef
	name   string
	value  []byte
	err    error
	closed bool
}

// Next advances the iterator. It returns false at the end of the sequence
// or on error; check Err afterwards.
func (it *XattrIter) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	name, value, code := it.io.c.drv.XattrsNext(it.ref)
	if code < 0 {
		it.err = errors.FromErrno(-code).WithOperation("xattrs_next")
		it.Close()
		return false
	}
	if name == "" {
		it.Close()
		return false
	}
	it.name, it.value = name, value
	return true
}

// Name returns the current attribute name.
func (it *XattrIter) Name() string { return it.name }

// Value returns the current attribute value.
func (it *XattrIter) Value() []byte { return it.value }

// Err returns the error that terminated iteration, if any.
func (it *XattrIter) Err() error { return it.err }

// Close releases the native iterator. Idempotent; safe on early exit.
func (it *XattrIter) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.io.c.drv.XattrsEnd(it.ref)
	return nil
}

// ObjectIter is a lazy cursor over object names. A step error terminates
// the sequence and is reported by Err; the native cursor is released on
// every exit path, including early Close.
type ObjectIter struct {
	io     *IOContext
	ref    native.ListRef
	entry  string
	err    error
	closed bool
}

// Next advances to the next object name.
func (it *ObjectIter) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	entry, code := it.io.c.drv.ListNext(it.ref)
	if code == -native.ENOENT {
		it.Close()
		return false
	}
	if code < 0 {
		it.err = errors.FromErrno(-code).WithOperation("list_next")
		it.Close()
		return false
	}
	it.entry = entry
	return true
}

// Object returns the current object name.
func (it *ObjectIter) Object() string { return it.entry }

// Err returns the error that terminated iteration, if any.
func (it *ObjectIter) Err() error { return it.err }

// Close releases the native cursor. Idempotent; safe on early exit.
func (it *ObjectIter) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.io.c.drv.ListClose(it.ref)
	return nil
}
