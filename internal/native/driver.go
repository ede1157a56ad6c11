// Package native defines the boundary to the cluster's C client library.
//
// Every call that crosses the boundary follows the library's return-code
// convention: a non-negative result is a success (and, where meaningful, a
// byte or entry count), a negative result is a negated POSIX errno. Raw codes
// never reach callers of the binding; they are translated by pkg/errors.
package native

// Opaque handle tokens. The real library hands out pointers; the driver
// abstraction reduces them to integer tokens so that no foreign pointer is
// ever visible above this package.
type (
	// ClusterRef identifies one native cluster session.
	ClusterRef uint64

	// IoctxRef identifies one pool-scoped I/O context.
	IoctxRef uint64

	// ListRef identifies an open object-listing cursor.
	ListRef uint64

	// XattrIterRef identifies an open extended-attribute iterator.
	XattrIterRef uint64

	// CompletionRef identifies one outstanding asynchronous operation.
	CompletionRef uint64

	// BufRef identifies a library-owned buffer that must be returned
	// through BufRelease, never the Go allocator.
	BufRef uint64
)

// POSIX errno values used by the native return-code convention. Mirrored here
// rather than taken from syscall so the wire convention is platform-neutral.
const (
	EPERM        = 1
	ENOENT       = 2
	EINTR        = 4
	EIO          = 5
	EACCES       = 13
	EEXIST       = 17
	EINVAL       = 22
	ENOSPC       = 28
	ERANGE       = 34
	ENOTCONN     = 107
	ETIMEDOUT    = 110
	ECONNREFUSED = 111
	ECANCELED    = 125
)

// Stat is the result of a native object stat call.
type Stat struct {
	Size  uint64
	MTime int64 // seconds since the Unix epoch
}

// ClusterStat is the result of a native cluster stat call.
type ClusterStat struct {
	KB         uint64
	KBUsed     uint64
	KBAvail    uint64
	NumObjects uint64
}

// CompletionCallback is invoked by the library on one of its own worker
// threads when the operation bound to ref has completed. Implementations must
// not block; they hand the event to the caller-side completion table.
type CompletionCallback func(ref CompletionRef)

// Driver is the C ABI surface of the native cluster library.
//
// Implementations: MemDriver (in-process simulation used by tests and the
// default session), or a cgo-backed driver supplied by the embedding
// application. All methods are safe for concurrent use unless noted.
type Driver interface {
	// Version reports the native library version triple.
	Version() (major, minor, extra int)

	// Create allocates an unconnected cluster session for the given client
	// name (e.g. "client.admin"). The session must eventually be released
	// with Shutdown regardless of whether Connect ever succeeds.
	Create(clientName string) (ClusterRef, int)
	// ConfReadFile loads configuration from a file into the session.
	ConfReadFile(c ClusterRef, path string) int
	// ConfSet applies a single key/value option. The native parser is the
	// sole authority on key validity.
	ConfSet(c ClusterRef, key, value string) int
	// Connect establishes the session. Blocking.
	Connect(c ClusterRef) int
	// Shutdown releases the session. Safe to call on a never-connected
	// session; must be called exactly once per Create.
	Shutdown(c ClusterRef)

	// FSID writes the cluster fsid string into buf and returns its length,
	// or -ERANGE if buf is too small.
	FSID(c ClusterRef, buf []byte) int
	// ClusterStat reports cluster-wide usage totals.
	ClusterStat(c ClusterRef) (ClusterStat, int)
	// PoolList fills buf with NUL-separated pool names and returns the
	// number of bytes required; a result larger than len(buf) means the
	// caller must retry with a bigger buffer.
	PoolList(c ClusterRef, buf []byte) int
	PoolCreate(c ClusterRef, pool string) int
	PoolDelete(c ClusterRef, pool string) int
	// PoolLookup resolves a pool name to its id, or a negative errno
	// (-ENOENT when the pool does not exist).
	PoolLookup(c ClusterRef, pool string) int64
	// PoolReverseLookup resolves a pool id to its name, written into buf.
	// Returns the name length, -ERANGE when buf is too small, -ENOENT for
	// an unknown id.
	PoolReverseLookup(c ClusterRef, id int64, buf []byte) int

	// MonCommand sends a JSON command to a monitor. On success out refers
	// to a library-owned response buffer the caller must release.
	MonCommand(c ClusterRef, cmd []byte) (out BufRef, status string, code int)
	// PingMonitor assesses liveness of a single monitor; out is
	// library-owned on success.
	PingMonitor(c ClusterRef, monID string) (out BufRef, code int)

	// BufData exposes the contents of a library-owned buffer. The view is
	// only valid until BufRelease.
	BufData(b BufRef) []byte
	// BufRelease returns a library-owned buffer to the library allocator.
	BufRelease(b BufRef)

	IoctxCreate(c ClusterRef, pool string) (IoctxRef, int)
	// IoctxDestroy releases an I/O context; must be called exactly once
	// per successful IoctxCreate.
	IoctxDestroy(i IoctxRef)
	SetNamespace(i IoctxRef, namespace string) int
	// SnapSetRead directs subsequent reads at the given snapshot id;
	// zero restores head reads.
	SnapSetRead(i IoctxRef, snap uint64) int

	Write(i IoctxRef, oid string, data []byte, off uint64) int
	WriteFull(i IoctxRef, oid string, data []byte) int
	Append(i IoctxRef, oid string, data []byte) int
	// Read fills buf starting at off and returns the byte count; short
	// reads at end-of-object are not errors.
	Read(i IoctxRef, oid string, buf []byte, off uint64) int
	Remove(i IoctxRef, oid string) int
	Trunc(i IoctxRef, oid string, size uint64) int
	Stat(i IoctxRef, oid string) (Stat, int)

	// GetXattr fills buf with the attribute value and returns its length,
	// or -ERANGE if buf is too small.
	GetXattr(i IoctxRef, oid, name string, buf []byte) int
	SetXattr(i IoctxRef, oid, name string, value []byte) int
	RmXattr(i IoctxRef, oid, name string) int
	XattrsOpen(i IoctxRef, oid string) (XattrIterRef, int)
	// XattrsNext yields the next attribute; code 0 with an empty name
	// signals the end of iteration.
	XattrsNext(it XattrIterRef) (name string, value []byte, code int)
	XattrsEnd(it XattrIterRef)

	ListOpen(i IoctxRef) (ListRef, int)
	// ListNext yields the next object name, or -ENOENT at the end.
	ListNext(l ListRef) (entry string, code int)
	ListClose(l ListRef)

	// AioCreateCompletion allocates a completion token and registers the
	// callback fired when an operation bound to it finishes.
	AioCreateCompletion(cb CompletionCallback) (CompletionRef, int)
	// AioWrite starts an asynchronous write. data is borrowed by the
	// library until the completion settles.
	AioWrite(i IoctxRef, comp CompletionRef, oid string, data []byte, off uint64) int
	// AioRead starts an asynchronous read into buf. buf is borrowed by
	// the library until the completion settles.
	AioRead(i IoctxRef, comp CompletionRef, oid string, buf []byte, off uint64) int
	// AioIsComplete reports non-zero once the operation has settled.
	AioIsComplete(comp CompletionRef) int
	// AioGetReturnValue is only meaningful after AioIsComplete.
	AioGetReturnValue(comp CompletionRef) int
	// AioCancel requests cancellation; returns 0 if the operation was
	// stopped before dispatch, -ENOENT if it had already settled.
	AioCancel(i IoctxRef, comp CompletionRef) int
	// AioRelease frees the completion token; the operation must have
	// settled first.
	AioRelease(comp CompletionRef)
}
