package rados

import (
	"context"
	"sync"

	"github.com/gorados/gorados/internal/buffer"
	"github.com/gorados/gorados/internal/native"
	"github.com/gorados/gorados/pkg/errors"
)

// Completion tracks one asynchronous operation from submission to
// settlement.
//
// The native library signals settlement by invoking a callback on one of its
// own worker threads; that callback only hands the event to the completion
// table, and the completion settles here, on the Go side. A completion holds
// a pin on the caller's buffer until it settles, so the memory can never be
// reclaimed while the library may still write to it.
type Completion struct {
	c   *Cluster
	io  *IOContext
	ref native.CompletionRef
	op  string

	mu       sync.Mutex
	done     chan struct{}
	settled  bool
	n        int
	err      error
	pin      *buffer.Pin
	released bool
}

// register allocates a native completion bound to the cluster's settlement
// callback and tracks it in the completion table.
func (c *Cluster) register(io *IOContext, op string) (*Completion, error) {
	comp := &Completion{c: c, io: io, op: op, done: make(chan struct{})}
	ref, code := c.drv.AioCreateCompletion(c.onSettled)
	if err := errors.MapCode(code); err != nil {
		return nil, err
	}
	comp.ref = ref

	c.compMu.Lock()
	c.comps[ref] = comp
	c.compMu.Unlock()
	return comp, nil
}

// onSettled is the native callback target. It runs on a library-owned
// thread, so it only resolves the table entry and settles; all blocking
// stays on the caller side.
func (c *Cluster) onSettled(ref native.CompletionRef) {
	c.compMu.Lock()
	comp := c.comps[ref]
	c.compMu.Unlock()
	if comp == nil {
		return
	}
	comp.settle(c.drv.AioGetReturnValue(ref))
}

// unregister removes a completion from the table.
func (c *Cluster) unregister(ref native.CompletionRef) {
	c.compMu.Lock()
	delete(c.comps, ref)
	c.compMu.Unlock()
}

// settle records the native return code exactly once and releases the
// buffer pin.
func (comp *Completion) settle(rc int) {
	comp.mu.Lock()
	if comp.settled {
		comp.mu.Unlock()
		return
	}
	comp.settled = true
	comp.n, comp.err = errors.MapResult(rc)
	pin := comp.pin
	comp.pin = nil
	close(comp.done)
	comp.mu.Unlock()

	pin.Unpin()
	comp.c.met.CompletionSettled()
	comp.c.met.SetPinnedBytes(comp.c.pins.PinnedBytes())
}

// abort tears down a completion whose submission failed before dispatch.
func (comp *Completion) abort() {
	comp.mu.Lock()
	pin := comp.pin
	comp.pin = nil
	comp.released = true
	comp.mu.Unlock()

	pin.Unpin()
	comp.c.unregister(comp.ref)
	comp.c.drv.AioRelease(comp.ref)
}

// Wait blocks until the operation settles or the context expires. A context
// expiry returns TIMEOUT (or CANCELED) without settling the completion: the
// operation is still in flight and its buffers stay pinned. Once settled,
// every Wait returns the same cached result.
func (comp *Completion) Wait(ctx context.Context) (int, error) {
	select {
	case <-comp.done:
		return comp.result()
	default:
	}

	select {
	case <-comp.done:
		return comp.result()
	case <-ctx.Done():
		code := errors.ErrCodeTimeout
		if ctx.Err() == context.Canceled {
			code = errors.ErrCodeCanceled
		}
		return 0, errors.New(code, "wait abandoned; operation still in flight").
			WithOperation(comp.op).WithCause(ctx.Err())
	}
}

// Poll reports whether the operation has settled, without blocking.
func (comp *Completion) Poll() bool {
	select {
	case <-comp.done:
		return true
	default:
		return false
	}
}

// Result returns the settled outcome. Calling it before settlement is an
// INVALID_STATE error.
func (comp *Completion) Result() (int, error) {
	if !comp.Poll() {
		return 0, errors.New(errors.ErrCodeInvalidState, "completion still pending").
			WithOperation(comp.op)
	}
	return comp.result()
}

func (comp *Completion) result() (int, error) {
	comp.mu.Lock()
	defer comp.mu.Unlock()
	return comp.n, comp.err
}

// Cancel asks the library to stop the operation. It is a request, not a
// guarantee: the completion still settles (with CANCELED if the stop won the
// race, with the real result otherwise), and buffers stay pinned until it
// does. Canceling an already-settled completion is a no-op.
func (comp *Completion) Cancel() error {
	code := comp.c.drv.AioCancel(comp.io.ref, comp.ref)
	if code == -native.ENOENT {
		// Already settled.
		return nil
	}
	return errors.MapCode(code)
}

// Release frees the native completion. Releasing while the operation is
// still pending fails loudly instead of freeing memory the library may
// still touch. After settlement the native free runs exactly once; further
// calls are no-ops.
func (comp *Completion) Release() error {
	comp.mu.Lock()
	defer comp.mu.Unlock()

	if !comp.settled {
		return errors.New(errors.ErrCodeInvalidState,
			"cannot release a pending completion").WithOperation(comp.op)
	}
	if comp.released {
		return nil
	}
	comp.released = true

	comp.c.unregister(comp.ref)
	comp.c.drv.AioRelease(comp.ref)
	return nil
}
