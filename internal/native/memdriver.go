package native

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memWorkers = 2

// MemDriver is an in-process implementation of Driver backed by plain maps.
//
// It reproduces the native library's observable behavior: the signed-int
// return convention, library-owned buffers, and asynchronous completions
// driven by driver-owned worker goroutines that invoke callbacks on their own
// threads. It also counts every handle it hands out so tests can verify that
// opens and closes balance.
type MemDriver struct {
	mu       sync.Mutex
	nextRef  uint64
	fsid     string
	clusters map[ClusterRef]*memCluster
	ioctxs   map[IoctxRef]*memIoctx
	lists    map[ListRef]*memList
	xiters   map[XattrIterRef]*memXattrIter
	comps    map[CompletionRef]*memCompletion
	bufs     map[BufRef][]byte
	pools    map[string]*memPool
	nextPool int64
	counters Counters
	faults   map[string]int

	asyncDelay time.Duration
	ops        chan func()
	done       chan struct{}
	wg         sync.WaitGroup
}

// Counters tracks native calls and live handles for leak verification.
type Counters struct {
	ClustersCreated  int
	ClustersShutdown int
	Connects         int

	IoctxCreateCalls int
	IoctxCreated     int
	IoctxDestroyed   int

	ListsOpened int
	ListsClosed int

	XattrItersOpened int
	XattrItersClosed int

	CompletionsCreated  int
	CompletionsReleased int

	BufsAllocated int
	BufsReleased  int
}

type memCluster struct {
	name      string
	conf      map[string]string
	connected bool
}

type memPool struct {
	id      int64
	objects map[string]*memObject
}

type memObject struct {
	data   []byte
	mtime  int64
	xattrs map[string][]byte
	snaps  map[uint64][]byte
}

type memIoctx struct {
	cluster ClusterRef
	pool    string
	ns      string
	snap    uint64
}

type memList struct {
	entries []string
	pos     int
}

type memXattrIter struct {
	names  []string
	values [][]byte
	pos    int
}

type memCompletion struct {
	mu       sync.Mutex
	cb       CompletionCallback
	complete bool
	rc       int
}

// NewMemDriver starts an in-memory driver with its own completion workers.
// Callers should Close it when done to stop the workers.
func NewMemDriver() *MemDriver {
	d := &MemDriver{
		fsid:     uuid.NewString(),
		clusters: make(map[ClusterRef]*memCluster),
		ioctxs:   make(map[IoctxRef]*memIoctx),
		lists:    make(map[ListRef]*memList),
		xiters:   make(map[XattrIterRef]*memXattrIter),
		comps:    make(map[CompletionRef]*memCompletion),
		bufs:     make(map[BufRef][]byte),
		pools:    make(map[string]*memPool),
		faults:   make(map[string]int),
		ops:      make(chan func(), 128),
		done:     make(chan struct{}),
	}
	d.wg.Add(memWorkers)
	for n := 0; n < memWorkers; n++ {
		go d.worker()
	}
	return d
}

func (d *MemDriver) worker() {
	defer d.wg.Done()
	for {
		select {
		case op := <-d.ops:
			op()
		case <-d.done:
			return
		}
	}
}

// Close stops the completion workers. Pending operations are drained first.
func (d *MemDriver) Close() {
	for {
		select {
		case op := <-d.ops:
			op()
			continue
		default:
		}
		break
	}
	close(d.done)
	d.wg.Wait()
}

// SetAsyncDelay makes every asynchronous operation take at least delay before
// completing. Used by tests to widen the Pending window.
func (d *MemDriver) SetAsyncDelay(delay time.Duration) {
	d.mu.Lock()
	d.asyncDelay = delay
	d.mu.Unlock()
}

// FailNext forces the next call of the named operation (e.g. "connect",
// "write", "aio_read") to return -errno.
func (d *MemDriver) FailNext(op string, errno int) {
	d.mu.Lock()
	d.faults[op] = errno
	d.mu.Unlock()
}

// Counters returns a snapshot of call and handle counts.
func (d *MemDriver) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// takeFault consumes a queued fault for op, returning the negated errno or 0.
// Caller must hold d.mu.
func (d *MemDriver) takeFault(op string) int {
	if errno, ok := d.faults[op]; ok {
		delete(d.faults, op)
		return -errno
	}
	return 0
}

func (d *MemDriver) ref() uint64 {
	d.nextRef++
	return d.nextRef
}

func objKey(ns, oid string) string { return ns + "\x00" + oid }

// SeedPool creates a pool directly, bypassing the admin path. Test helper.
func (d *MemDriver) SeedPool(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addPool(name)
}

func (d *MemDriver) addPool(name string) *memPool {
	if p, ok := d.pools[name]; ok {
		return p
	}
	d.nextPool++
	p := &memPool{id: d.nextPool, objects: make(map[string]*memObject)}
	d.pools[name] = p
	return p
}

// SnapshotObject records the current contents of an object under snap id, so
// snapshot reads can observe it. Test helper.
func (d *MemDriver) SnapshotObject(pool, ns, oid string, snap uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return
	}
	obj, ok := p.objects[objKey(ns, oid)]
	if !ok {
		return
	}
	if obj.snaps == nil {
		obj.snaps = make(map[uint64][]byte)
	}
	obj.snaps[snap] = append([]byte(nil), obj.data...)
}

// Version reports the simulated library version.
func (d *MemDriver) Version() (int, int, int) { return 3, 0, 0 }

func (d *MemDriver) Create(clientName string) (ClusterRef, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("create"); code < 0 {
		return 0, code
	}
	if clientName == "" {
		clientName = "client.admin"
	}
	ref := ClusterRef(d.ref())
	d.clusters[ref] = &memCluster{name: clientName, conf: make(map[string]string)}
	d.counters.ClustersCreated++
	return ref, 0
}

func (d *MemDriver) ConfReadFile(c ClusterRef, path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cl, ok := d.clusters[c]
	if !ok {
		return -EINVAL
	}
	if code := d.takeFault("conf_read_file"); code < 0 {
		return code
	}
	if path == "" {
		return -EINVAL
	}
	if _, err := os.Stat(path); err != nil {
		return -ENOENT
	}
	cl.conf["conf_file"] = path
	return 0
}

func (d *MemDriver) ConfSet(c ClusterRef, key, value string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cl, ok := d.clusters[c]
	if !ok {
		return -EINVAL
	}
	if code := d.takeFault("conf_set"); code < 0 {
		return code
	}
	// The native parser rejects malformed option names.
	if key == "" || strings.ContainsAny(key, " \t\n") {
		return -EINVAL
	}
	cl.conf[key] = value
	return 0
}

func (d *MemDriver) Connect(c ClusterRef) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cl, ok := d.clusters[c]
	if !ok {
		return -EINVAL
	}
	if code := d.takeFault("connect"); code < 0 {
		return code
	}
	cl.connected = true
	d.counters.Connects++
	return 0
}

func (d *MemDriver) Shutdown(c ClusterRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clusters[c]; !ok {
		return
	}
	delete(d.clusters, c)
	d.counters.ClustersShutdown++
}

func (d *MemDriver) FSID(c ClusterRef, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return -ENOTCONN
	}
	if len(buf) < len(d.fsid) {
		return -ERANGE
	}
	return copy(buf, d.fsid)
}

func (d *MemDriver) ClusterStat(c ClusterRef) (ClusterStat, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return ClusterStat{}, -ENOTCONN
	}
	return d.clusterStatLocked()
}

func (d *MemDriver) PoolList(c ClusterRef, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return -ENOTCONN
	}
	names := make([]string, 0, len(d.pools))
	for name := range d.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(0)
	}
	b.WriteByte(0)
	need := b.Len()
	copy(buf, b.String())
	return need
}

func (d *MemDriver) PoolCreate(c ClusterRef, pool string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return -ENOTCONN
	}
	if pool == "" {
		return -EINVAL
	}
	if _, ok := d.pools[pool]; ok {
		return -EEXIST
	}
	d.addPool(pool)
	return 0
}

func (d *MemDriver) PoolDelete(c ClusterRef, pool string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return -ENOTCONN
	}
	if _, ok := d.pools[pool]; !ok {
		return -ENOENT
	}
	delete(d.pools, pool)
	return 0
}

func (d *MemDriver) PoolLookup(c ClusterRef, pool string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return -ENOTCONN
	}
	p, ok := d.pools[pool]
	if !ok {
		return -ENOENT
	}
	return p.id
}

func (d *MemDriver) PoolReverseLookup(c ClusterRef, id int64, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return -ENOTCONN
	}
	for name, p := range d.pools {
		if p.id == id {
			if len(buf) < len(name) {
				return -ERANGE
			}
			copy(buf, name)
			return len(name)
		}
	}
	return -ENOENT
}

func (d *MemDriver) newBuf(data []byte) BufRef {
	ref := BufRef(d.ref())
	d.bufs[ref] = data
	d.counters.BufsAllocated++
	return ref
}

func (d *MemDriver) MonCommand(c ClusterRef, cmd []byte) (BufRef, string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return 0, "", -ENOTCONN
	}
	if code := d.takeFault("mon_command"); code < 0 {
		return 0, "", code
	}
	var req map[string]any
	if err := json.Unmarshal(cmd, &req); err != nil {
		return 0, "parse error", -EINVAL
	}
	prefix, _ := req["prefix"].(string)
	switch prefix {
	case "status":
		return d.newBuf(d.statusJSON()), "", 0
	case "version":
		return d.newBuf([]byte(`{"version":"gorados memdriver 3.0.0"}`)), "", 0
	case "df":
		st, _ := d.clusterStatLocked()
		out, _ := json.Marshal(map[string]any{
			"stats": map[string]uint64{
				"total_kb": st.KB, "total_used_kb": st.KBUsed, "total_avail_kb": st.KBAvail,
			},
		})
		return d.newBuf(out), "", 0
	default:
		return 0, fmt.Sprintf("unknown command %q", prefix), -EINVAL
	}
}

func (d *MemDriver) clusterStatLocked() (ClusterStat, int) {
	var st ClusterStat
	st.KB = 1 << 30
	for _, p := range d.pools {
		for _, obj := range p.objects {
			st.NumObjects++
			st.KBUsed += uint64(len(obj.data)+1023) / 1024
		}
	}
	st.KBAvail = st.KB - st.KBUsed
	return st, 0
}

func (d *MemDriver) statusJSON() []byte {
	numPools := len(d.pools)
	var numObjects int
	for _, p := range d.pools {
		numObjects += len(p.objects)
	}
	out, _ := json.Marshal(map[string]any{
		"fsid": d.fsid,
		"health": map[string]any{
			"status": "HEALTH_OK",
			"checks": map[string]any{},
		},
		"monmap": map[string]any{
			"epoch": 1,
			"mons":  []map[string]any{{"name": "a", "rank": 0}},
		},
		"osdmap": map[string]any{
			"epoch": 1, "num_osds": 3, "num_up_osds": 3, "num_in_osds": 3,
		},
		"pgmap": map[string]any{
			"num_pools": numPools, "num_objects": numObjects,
		},
	})
	return out
}

func (d *MemDriver) PingMonitor(c ClusterRef, monID string) (BufRef, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl, ok := d.clusters[c]; !ok || !cl.connected {
		return 0, -ENOTCONN
	}
	if monID == "" {
		return 0, -EINVAL
	}
	out, _ := json.Marshal(map[string]string{"mon_id": monID, "state": "leader"})
	return d.newBuf(out), 0
}

func (d *MemDriver) BufData(b BufRef) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufs[b]
}

func (d *MemDriver) BufRelease(b BufRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bufs[b]; !ok {
		return
	}
	delete(d.bufs, b)
	d.counters.BufsReleased++
}

func (d *MemDriver) IoctxCreate(c ClusterRef, pool string) (IoctxRef, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.IoctxCreateCalls++
	cl, ok := d.clusters[c]
	if !ok || !cl.connected {
		return 0, -ENOTCONN
	}
	if code := d.takeFault("ioctx_create"); code < 0 {
		return 0, code
	}
	if _, ok := d.pools[pool]; !ok {
		return 0, -ENOENT
	}
	ref := IoctxRef(d.ref())
	d.ioctxs[ref] = &memIoctx{cluster: c, pool: pool}
	d.counters.IoctxCreated++
	return ref, 0
}

func (d *MemDriver) IoctxDestroy(i IoctxRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ioctxs[i]; !ok {
		return
	}
	delete(d.ioctxs, i)
	d.counters.IoctxDestroyed++
}

func (d *MemDriver) SetNamespace(i IoctxRef, namespace string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, ok := d.ioctxs[i]
	if !ok {
		return -EINVAL
	}
	io.ns = namespace
	return 0
}

func (d *MemDriver) SnapSetRead(i IoctxRef, snap uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, ok := d.ioctxs[i]
	if !ok {
		return -EINVAL
	}
	io.snap = snap
	return 0
}

// object returns the object for oid in the ioctx's pool/namespace, creating
// it when create is set. Caller must hold d.mu.
func (d *MemDriver) object(io *memIoctx, oid string, create bool) (*memObject, int) {
	p, ok := d.pools[io.pool]
	if !ok {
		return nil, -ENOENT
	}
	key := objKey(io.ns, oid)
	obj, ok := p.objects[key]
	if !ok {
		if !create {
			return nil, -ENOENT
		}
		obj = &memObject{xattrs: make(map[string][]byte)}
		p.objects[key] = obj
	}
	return obj, 0
}

func (d *MemDriver) ioctx(i IoctxRef) (*memIoctx, int) {
	io, ok := d.ioctxs[i]
	if !ok {
		return nil, -EINVAL
	}
	return io, 0
}

func (d *MemDriver) writeAt(io *memIoctx, oid string, data []byte, off uint64) int {
	obj, code := d.object(io, oid, true)
	if code < 0 {
		return code
	}
	end := off + uint64(len(data))
	if end > uint64(cap(obj.data)) {
		grown := make([]byte, end)
		copy(grown, obj.data)
		obj.data = grown
	} else if end > uint64(len(obj.data)) {
		obj.data = obj.data[:end]
	}
	copy(obj.data[off:end], data)
	obj.mtime = time.Now().Unix()
	return len(data)
}

func (d *MemDriver) Write(i IoctxRef, oid string, data []byte, off uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("write"); code < 0 {
		return code
	}
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	return d.writeAt(io, oid, data, off)
}

func (d *MemDriver) WriteFull(i IoctxRef, oid string, data []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("write_full"); code < 0 {
		return code
	}
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	obj, code := d.object(io, oid, true)
	if code < 0 {
		return code
	}
	obj.data = append([]byte(nil), data...)
	obj.mtime = time.Now().Unix()
	return 0
}

func (d *MemDriver) Append(i IoctxRef, oid string, data []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	obj, code := d.object(io, oid, true)
	if code < 0 {
		return code
	}
	obj.data = append(obj.data, data...)
	obj.mtime = time.Now().Unix()
	return 0
}

func (d *MemDriver) readAt(io *memIoctx, oid string, buf []byte, off uint64) int {
	obj, code := d.object(io, oid, false)
	if code < 0 {
		return code
	}
	data := obj.data
	if io.snap != 0 {
		snap, ok := obj.snaps[io.snap]
		if !ok {
			return -ENOENT
		}
		data = snap
	}
	if off >= uint64(len(data)) {
		return 0
	}
	return copy(buf, data[off:])
}

func (d *MemDriver) Read(i IoctxRef, oid string, buf []byte, off uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("read"); code < 0 {
		return code
	}
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	return d.readAt(io, oid, buf, off)
}

func (d *MemDriver) Remove(i IoctxRef, oid string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	p, ok := d.pools[io.pool]
	if !ok {
		return -ENOENT
	}
	key := objKey(io.ns, oid)
	if _, ok := p.objects[key]; !ok {
		return -ENOENT
	}
	delete(p.objects, key)
	return 0
}

func (d *MemDriver) Trunc(i IoctxRef, oid string, size uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	obj, code := d.object(io, oid, true)
	if code < 0 {
		return code
	}
	if size <= uint64(len(obj.data)) {
		obj.data = obj.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, obj.data)
		obj.data = grown
	}
	obj.mtime = time.Now().Unix()
	return 0
}

func (d *MemDriver) Stat(i IoctxRef, oid string) (Stat, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return Stat{}, code
	}
	obj, code := d.object(io, oid, false)
	if code < 0 {
		return Stat{}, code
	}
	return Stat{Size: uint64(len(obj.data)), MTime: obj.mtime}, 0
}

func (d *MemDriver) GetXattr(i IoctxRef, oid, name string, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	obj, code := d.object(io, oid, false)
	if code < 0 {
		return code
	}
	val, ok := obj.xattrs[name]
	if !ok {
		return -ENOENT
	}
	if len(buf) < len(val) {
		return -ERANGE
	}
	return copy(buf, val)
}

func (d *MemDriver) SetXattr(i IoctxRef, oid, name string, value []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	obj, code := d.object(io, oid, true)
	if code < 0 {
		return code
	}
	obj.xattrs[name] = append([]byte(nil), value...)
	return 0
}

func (d *MemDriver) RmXattr(i IoctxRef, oid, name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return code
	}
	obj, code := d.object(io, oid, false)
	if code < 0 {
		return code
	}
	if _, ok := obj.xattrs[name]; !ok {
		return -ENOENT
	}
	delete(obj.xattrs, name)
	return 0
}

func (d *MemDriver) XattrsOpen(i IoctxRef, oid string) (XattrIterRef, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	io, code := d.ioctx(i)
	if code < 0 {
		return 0, code
	}
	obj, code := d.object(io, oid, false)
	if code < 0 {
		return 0, code
	}
	names := make([]string, 0, len(obj.xattrs))
	for name := range obj.xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	it := &memXattrIter{names: names}
	for _, name := range names {
		it.values = append(it.values, append([]byte(nil), obj.xattrs[name]...))
	}
	ref := XattrIterRef(d.ref())
	d.xiters[ref] = it
	d.counters.XattrItersOpened++
	return ref, 0
}

func (d *MemDriver) XattrsNext(it XattrIterRef) (string, []byte, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	iter, ok := d.xiters[it]
	if !ok {
		return "", nil, -EINVAL
	}
	if iter.pos >= len(iter.names) {
		return "", nil, 0
	}
	name, value := iter.names[iter.pos], iter.values[iter.pos]
	iter.pos++
	return name, value, 0
}

func (d *MemDriver) XattrsEnd(it XattrIterRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.xiters[it]; !ok {
		return
	}
	delete(d.xiters, it)
	d.counters.XattrItersClosed++
}

func (d *MemDriver) ListOpen(i IoctxRef) (ListRef, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("list_open"); code < 0 {
		return 0, code
	}
	io, code := d.ioctx(i)
	if code < 0 {
		return 0, code
	}
	p, ok := d.pools[io.pool]
	if !ok {
		return 0, -ENOENT
	}
	prefix := objKey(io.ns, "")
	entries := make([]string, 0, len(p.objects))
	for key := range p.objects {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(entries)
	ref := ListRef(d.ref())
	d.lists[ref] = &memList{entries: entries}
	d.counters.ListsOpened++
	return ref, 0
}

func (d *MemDriver) ListNext(l ListRef) (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("list_next"); code < 0 {
		return "", code
	}
	list, ok := d.lists[l]
	if !ok {
		return "", -EINVAL
	}
	if list.pos >= len(list.entries) {
		return "", -ENOENT
	}
	entry := list.entries[list.pos]
	list.pos++
	return entry, 0
}

func (d *MemDriver) ListClose(l ListRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.lists[l]; !ok {
		return
	}
	delete(d.lists, l)
	d.counters.ListsClosed++
}

func (d *MemDriver) AioCreateCompletion(cb CompletionCallback) (CompletionRef, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.takeFault("aio_create_completion"); code < 0 {
		return 0, code
	}
	ref := CompletionRef(d.ref())
	d.comps[ref] = &memCompletion{cb: cb}
	d.counters.CompletionsCreated++
	return ref, 0
}

// dispatch hands an asynchronous operation to the driver's worker pool. The
// worker settles the completion and fires its callback on the worker
// goroutine, mimicking the library's callback-on-foreign-thread model.
func (d *MemDriver) dispatch(ref CompletionRef, comp *memCompletion, op func() int) {
	delay := d.asyncDelay
	d.ops <- func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		comp.mu.Lock()
		if comp.complete {
			// Cancelled before the worker got to it.
			comp.mu.Unlock()
			return
		}
		comp.mu.Unlock()

		rc := op()

		comp.mu.Lock()
		if comp.complete {
			comp.mu.Unlock()
			return
		}
		comp.complete = true
		comp.rc = rc
		cb := comp.cb
		comp.mu.Unlock()
		if cb != nil {
			cb(ref)
		}
	}
}

func (d *MemDriver) AioWrite(i IoctxRef, comp CompletionRef, oid string, data []byte, off uint64) int {
	d.mu.Lock()
	if code := d.takeFault("aio_write"); code < 0 {
		d.mu.Unlock()
		return code
	}
	io, code := d.ioctx(i)
	if code < 0 {
		d.mu.Unlock()
		return code
	}
	c, ok := d.comps[comp]
	if !ok {
		d.mu.Unlock()
		return -EINVAL
	}
	d.mu.Unlock()

	d.dispatch(comp, c, func() int {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.writeAt(io, oid, data, off)
	})
	return 0
}

func (d *MemDriver) AioRead(i IoctxRef, comp CompletionRef, oid string, buf []byte, off uint64) int {
	d.mu.Lock()
	if code := d.takeFault("aio_read"); code < 0 {
		d.mu.Unlock()
		return code
	}
	io, code := d.ioctx(i)
	if code < 0 {
		d.mu.Unlock()
		return code
	}
	c, ok := d.comps[comp]
	if !ok {
		d.mu.Unlock()
		return -EINVAL
	}
	d.mu.Unlock()

	d.dispatch(comp, c, func() int {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.readAt(io, oid, buf, off)
	})
	return 0
}

func (d *MemDriver) AioIsComplete(comp CompletionRef) int {
	d.mu.Lock()
	c, ok := d.comps[comp]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.complete {
		return 1
	}
	return 0
}

func (d *MemDriver) AioGetReturnValue(comp CompletionRef) int {
	d.mu.Lock()
	c, ok := d.comps[comp]
	d.mu.Unlock()
	if !ok {
		return -EINVAL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rc
}

func (d *MemDriver) AioCancel(i IoctxRef, comp CompletionRef) int {
	d.mu.Lock()
	c, ok := d.comps[comp]
	d.mu.Unlock()
	if !ok {
		return -EINVAL
	}
	c.mu.Lock()
	if c.complete {
		c.mu.Unlock()
		return -ENOENT
	}
	c.complete = true
	c.rc = -ECANCELED
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		// Fire on a fresh goroutine: the library never delivers
		// cancellation on the caller's thread.
		go cb(comp)
	}
	return 0
}

func (d *MemDriver) AioRelease(comp CompletionRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.comps[comp]; !ok {
		return
	}
	delete(d.comps, comp)
	d.counters.CompletionsReleased++
}
