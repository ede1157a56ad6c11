package rados

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gorados/gorados/internal/buffer"
	"github.com/gorados/gorados/internal/config"
	"github.com/gorados/gorados/internal/metrics"
	"github.com/gorados/gorados/internal/native"
	"github.com/gorados/gorados/pkg/errors"
)

// State is the lifecycle position of a Cluster handle.
type State int32

const (
	StateUnconfigured State = iota
	StateConfigured
	StateConnected
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cluster is a handle to one native cluster session.
//
// The lifecycle is strict: Unconfigured, Configured (after Configure),
// Connected (after Connect), then Closed (after Shutdown). Operations
// invoked from the wrong state fail with INVALID_STATE before any native
// call is made. Shutdown is idempotent and closes any I/O contexts still
// open under the handle.
type Cluster struct {
	drv native.Driver
	cfg *config.Config
	log zerolog.Logger
	met *metrics.Collector

	pins *buffer.PinRegistry

	mu      sync.Mutex
	state   State
	ref     native.ClusterRef
	created bool
	ioctxs  map[*IOContext]struct{}

	compMu sync.Mutex
	comps  map[native.CompletionRef]*Completion
}

// New creates an unconfigured cluster handle. No native calls happen here.
func New(opts ...Option) (*Cluster, error) {
	c := &Cluster{
		log:    zerolog.Nop(),
		pins:   buffer.NewPinRegistry(),
		ioctxs: make(map[*IOContext]struct{}),
		comps:  make(map[native.CompletionRef]*Completion),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg == nil {
		c.cfg = config.DefaultConfig()
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, errors.New(errors.ErrCodeInvalid, "configuration rejected").WithCause(err)
	}
	if c.drv == nil {
		c.drv = native.NewMemDriver()
	}
	return c, nil
}

// Configure creates the native session and applies the configuration: the
// optional conf file first, then each option verbatim. The native parser is
// the sole authority on option validity; its rejection surfaces as INVALID.
// Allowed while unconfigured or configured, never once connected.
func (c *Cluster) Configure() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUnconfigured, StateConfigured:
	default:
		return errors.Newf(errors.ErrCodeInvalidState,
			"cannot configure a %s cluster handle", c.state).WithOperation("configure")
	}

	if !c.created {
		ref, code := c.drv.Create(c.cfg.Cluster.User)
		if err := errors.MapCode(code); err != nil {
			return fmt.Errorf("create cluster session: %w", err)
		}
		c.ref = ref
		c.created = true
	}

	if path := c.cfg.Cluster.ConfFile; path != "" {
		if err := errors.MapCode(c.drv.ConfReadFile(c.ref, path)); err != nil {
			return fmt.Errorf("read conf file %s: %w", path, err)
		}
	}
	for key, value := range c.cfg.Cluster.Options {
		if code := c.drv.ConfSet(c.ref, key, value); code < 0 {
			return errors.New(errors.ErrCodeInvalid, "option rejected by native parser").
				WithOperation("conf_set").
				WithDetail("key", key).
				WithErrno(-code)
		}
	}

	c.state = StateConfigured
	c.log.Debug().Str("user", c.cfg.Cluster.User).Msg("cluster session configured")
	return nil
}

// Connect establishes the session. Blocking, like the native call it wraps;
// connection time bounds are set through native options (mon timeouts), not
// through a context. On failure the handle stays configured and Connect may
// be retried.
func (c *Cluster) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConfigured {
		return errors.Newf(errors.ErrCodeInvalidState,
			"cannot connect a %s cluster handle", c.state).WithOperation("connect")
	}

	start := time.Now()
	code := c.drv.Connect(c.ref)
	if err := errors.MapCode(code); err != nil {
		c.observe("connect", start, err)
		return fmt.Errorf("connect: %w", err)
	}
	c.state = StateConnected
	c.observe("connect", start, nil)
	c.log.Info().Str("cluster", c.cfg.Cluster.Name).Msg("connected")
	return nil
}

// Shutdown releases the session. Idempotent: the first call closes every
// I/O context still open under the handle and runs the native shutdown
// exactly once; later calls return nil immediately.
func (c *Cluster) Shutdown() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateShuttingDown

	open := make([]*IOContext, 0, len(c.ioctxs))
	for io := range c.ioctxs {
		open = append(open, io)
	}
	c.mu.Unlock()

	for _, io := range open {
		if err := io.Close(); err != nil {
			c.log.Warn().Err(err).Str("pool", io.pool).Msg("closing io context during shutdown")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created {
		c.drv.Shutdown(c.ref)
	}
	c.state = StateClosed
	c.log.Info().Msg("cluster session shut down")
	return nil
}

// State reports the current lifecycle state.
func (c *Cluster) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenIOContext opens a pool-scoped I/O context. Only valid while connected;
// from any other state it fails without touching the native library.
func (c *Cluster) OpenIOContext(pool string) (*IOContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return nil, errors.Newf(errors.ErrCodeInvalidState,
			"cannot open io context on a %s cluster handle", c.state).
			WithOperation("open_ioctx").WithDetail("pool", pool)
	}

	start := time.Now()
	ref, code := c.drv.IoctxCreate(c.ref, pool)
	if err := errors.MapCode(code); err != nil {
		c.observe("open_ioctx", start, err)
		return nil, fmt.Errorf("open io context for pool %s: %w", pool, err)
	}

	io := &IOContext{c: c, ref: ref, pool: pool}
	c.ioctxs[io] = struct{}{}
	c.met.IOContextOpened()
	c.observe("open_ioctx", start, nil)
	return io, nil
}

// removeIOContext detaches a closed I/O context from the handle.
func (c *Cluster) removeIOContext(io *IOContext) {
	c.mu.Lock()
	delete(c.ioctxs, io)
	c.mu.Unlock()
	c.met.IOContextClosed()
}

// connectedRef returns the native session ref if the handle is connected.
func (c *Cluster) connectedRef(op string) (native.ClusterRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return 0, errors.Newf(errors.ErrCodeInvalidState,
			"cluster handle is %s", c.state).WithOperation(op)
	}
	return c.ref, nil
}

// Version reports the native library version triple.
func (c *Cluster) Version() (major, minor, extra int) {
	return c.drv.Version()
}

// FSID returns the cluster's fsid as a canonical UUID string.
func (c *Cluster) FSID() (string, error) {
	ref, err := c.connectedRef("fsid")
	if err != nil {
		return "", err
	}

	buf := make([]byte, 64)
	for {
		n := c.drv.FSID(ref, buf)
		if n == -native.ERANGE {
			buf = make([]byte, len(buf)*2)
			continue
		}
		if _, err := errors.MapResult(n); err != nil {
			return "", fmt.Errorf("fsid: %w", err)
		}
		id, err := uuid.Parse(string(buf[:n]))
		if err != nil {
			return "", errors.New(errors.ErrCodeInvalid, "malformed fsid").WithCause(err)
		}
		return id.String(), nil
	}
}

// ClusterUsage is cluster-wide capacity accounting, in kilobytes.
type ClusterUsage struct {
	KB         uint64
	KBUsed     uint64
	KBAvail    uint64
	NumObjects uint64
}

// Stat reports cluster-wide usage totals.
func (c *Cluster) Stat() (ClusterUsage, error) {
	ref, err := c.connectedRef("cluster_stat")
	if err != nil {
		return ClusterUsage{}, err
	}
	st, code := c.drv.ClusterStat(ref)
	if err := errors.MapCode(code); err != nil {
		return ClusterUsage{}, fmt.Errorf("cluster stat: %w", err)
	}
	return ClusterUsage{KB: st.KB, KBUsed: st.KBUsed, KBAvail: st.KBAvail, NumObjects: st.NumObjects}, nil
}

// ListPools returns the names of all pools in the cluster.
func (c *Cluster) ListPools() ([]string, error) {
	ref, err := c.connectedRef("list_pools")
	if err != nil {
		return nil, err
	}

	// The native call reports the bytes required; retry until the buffer
	// holds the whole NUL-separated list.
	buf := buffer.GetBuffer(4096)
	defer func() { buffer.PutBuffer(buf) }()
	for {
		n := c.drv.PoolList(ref, buf)
		if _, err := errors.MapResult(n); err != nil {
			return nil, fmt.Errorf("list pools: %w", err)
		}
		if n <= len(buf) {
			return splitPoolNames(buf[:n]), nil
		}
		buffer.PutBuffer(buf)
		buf = buffer.GetBuffer(n)
	}
}

func splitPoolNames(raw []byte) []string {
	var names []string
	start := 0
	for i, b := range raw {
		if b != 0 {
			continue
		}
		if i > start {
			names = append(names, string(raw[start:i]))
		}
		start = i + 1
	}
	return names
}

// CreatePool creates a pool with default settings.
func (c *Cluster) CreatePool(name string) error {
	ref, err := c.connectedRef("create_pool")
	if err != nil {
		return err
	}
	start := time.Now()
	err = errors.MapCode(c.drv.PoolCreate(ref, name))
	c.observe("create_pool", start, err)
	if err != nil {
		return fmt.Errorf("create pool %s: %w", name, err)
	}
	return nil
}

// DeletePool deletes a pool and everything in it.
func (c *Cluster) DeletePool(name string) error {
	ref, err := c.connectedRef("delete_pool")
	if err != nil {
		return err
	}
	start := time.Now()
	err = errors.MapCode(c.drv.PoolDelete(ref, name))
	c.observe("delete_pool", start, err)
	if err != nil {
		return fmt.Errorf("delete pool %s: %w", name, err)
	}
	return nil
}

// LookupPool resolves a pool name to its id. A missing pool is reported as
// (-1, false, nil), not as an error.
func (c *Cluster) LookupPool(name string) (int64, bool, error) {
	ref, err := c.connectedRef("lookup_pool")
	if err != nil {
		return -1, false, err
	}
	id := c.drv.PoolLookup(ref, name)
	if id == -native.ENOENT {
		return -1, false, nil
	}
	if id < 0 {
		return -1, false, fmt.Errorf("lookup pool %s: %w", name, errors.FromErrno(int(-id)))
	}
	return id, true, nil
}

// ReverseLookupPool resolves a pool id back to its name. An unknown id is
// reported as ("", false, nil), not as an error.
func (c *Cluster) ReverseLookupPool(id int64) (string, bool, error) {
	ref, err := c.connectedRef("reverse_lookup_pool")
	if err != nil {
		return "", false, err
	}
	size := 64
	for {
		buf := buffer.GetBuffer(size)
		n := c.drv.PoolReverseLookup(ref, id, buf)
		if n == -native.ERANGE {
			buffer.PutBuffer(buf)
			size *= 2
			continue
		}
		if n == -native.ENOENT {
			buffer.PutBuffer(buf)
			return "", false, nil
		}
		if n < 0 {
			buffer.PutBuffer(buf)
			return "", false, fmt.Errorf("reverse lookup pool %d: %w", id, errors.FromErrno(-n))
		}
		name := string(buf[:n])
		buffer.PutBuffer(buf)
		return name, true, nil
	}
}

// MonCommand sends a command to a monitor and returns the response body.
// The native status line accompanies any failure.
func (c *Cluster) MonCommand(cmd *MonCommand) ([]byte, error) {
	ref, err := c.connectedRef("mon_command")
	if err != nil {
		return nil, err
	}
	payload, err := cmd.Encode()
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalid, "cannot encode mon command").WithCause(err)
	}

	start := time.Now()
	out, status, code := c.drv.MonCommand(ref, payload)
	if mapErr := errors.MapCode(code); mapErr != nil {
		c.observe("mon_command", start, mapErr)
		if status != "" {
			return nil, fmt.Errorf("mon command failed (%s): %w", status, mapErr)
		}
		return nil, fmt.Errorf("mon command failed: %w", mapErr)
	}
	c.observe("mon_command", start, nil)

	lb := buffer.NewLibBuffer(c.drv, out)
	defer lb.Release()
	return lb.Copy(), nil
}

// PingMonitor assesses liveness of a single monitor and returns its report.
func (c *Cluster) PingMonitor(monID string) ([]byte, error) {
	ref, err := c.connectedRef("ping_monitor")
	if err != nil {
		return nil, err
	}
	out, code := c.drv.PingMonitor(ref, monID)
	if err := errors.MapCode(code); err != nil {
		return nil, fmt.Errorf("ping monitor %s: %w", monID, err)
	}
	lb := buffer.NewLibBuffer(c.drv, out)
	defer lb.Release()
	return lb.Copy(), nil
}

// PinnedBytes reports the bytes currently pinned by pending completions.
func (c *Cluster) PinnedBytes() int64 {
	return c.pins.PinnedBytes()
}

// observe records one operation in the metrics collector.
func (c *Cluster) observe(op string, start time.Time, err error) {
	code := ""
	if err != nil {
		code = string(errors.ErrCodeUnknown)
		var re *errors.RadosError
		if stderrors.As(err, &re) {
			code = string(re.Code)
		}
	}
	c.met.ObserveOperation(op, time.Since(start), code)
}
