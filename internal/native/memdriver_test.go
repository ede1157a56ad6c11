package native

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newConnected(t *testing.T) (*MemDriver, ClusterRef) {
	t.Helper()
	d := NewMemDriver()
	t.Cleanup(d.Close)
	c, code := d.Create("client.admin")
	if code != 0 {
		t.Fatalf("Create: %d", code)
	}
	if code := d.Connect(c); code != 0 {
		t.Fatalf("Connect: %d", code)
	}
	return d, c
}

func openIoctx(t *testing.T, d *MemDriver, c ClusterRef, pool string) IoctxRef {
	t.Helper()
	d.SeedPool(pool)
	io, code := d.IoctxCreate(c, pool)
	if code != 0 {
		t.Fatalf("IoctxCreate: %d", code)
	}
	return io
}

func TestCreateConnectShutdownCounters(t *testing.T) {
	d := NewMemDriver()
	defer d.Close()

	c, code := d.Create("")
	if code != 0 {
		t.Fatalf("Create: %d", code)
	}
	if code := d.Connect(c); code != 0 {
		t.Fatalf("Connect: %d", code)
	}
	d.Shutdown(c)
	d.Shutdown(c) // second call is a no-op

	got := d.Counters()
	if got.ClustersCreated != 1 || got.ClustersShutdown != 1 {
		t.Fatalf("counters = %+v, want one create and one shutdown", got)
	}
}

func TestConnectFault(t *testing.T) {
	d := NewMemDriver()
	defer d.Close()
	c, _ := d.Create("client.admin")
	d.FailNext("connect", ECONNREFUSED)
	if code := d.Connect(c); code != -ECONNREFUSED {
		t.Fatalf("Connect = %d, want %d", code, -ECONNREFUSED)
	}
	// Fault is consumed; a retry succeeds.
	if code := d.Connect(c); code != 0 {
		t.Fatalf("retry Connect = %d", code)
	}
	d.Shutdown(c)
}

func TestConfSetRejectsBadKeys(t *testing.T) {
	d := NewMemDriver()
	defer d.Close()
	c, _ := d.Create("client.admin")
	defer d.Shutdown(c)

	if code := d.ConfSet(c, "mon_host", "10.0.0.1"); code != 0 {
		t.Fatalf("valid key: %d", code)
	}
	if code := d.ConfSet(c, "", "x"); code != -EINVAL {
		t.Fatalf("empty key = %d, want -EINVAL", code)
	}
	if code := d.ConfSet(c, "bad key", "x"); code != -EINVAL {
		t.Fatalf("spaced key = %d, want -EINVAL", code)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	payload := []byte("hello rados")
	if n := d.Write(io, "obj", payload, 0); n != len(payload) {
		t.Fatalf("Write = %d", n)
	}
	buf := make([]byte, 64)
	n := d.Read(io, "obj", buf, 0)
	if n != len(payload) || !bytes.Equal(buf[:n], payload) {
		t.Fatalf("Read = %d %q", n, buf[:n])
	}

	// Offset write past the end zero-fills the gap.
	if n := d.Write(io, "obj", []byte("x"), 20); n != 1 {
		t.Fatalf("offset Write = %d", n)
	}
	st, code := d.Stat(io, "obj")
	if code != 0 || st.Size != 21 {
		t.Fatalf("Stat = %+v code %d", st, code)
	}
}

func TestReadMissingObject(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	if n := d.Read(io, "ghost", make([]byte, 8), 0); n != -ENOENT {
		t.Fatalf("Read = %d, want -ENOENT", n)
	}
	if code := d.Remove(io, "ghost"); code != -ENOENT {
		t.Fatalf("Remove = %d, want -ENOENT", code)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	d.Write(io, "obj", []byte("default"), 0)
	d.SetNamespace(io, "tenant-a")
	if n := d.Read(io, "obj", make([]byte, 8), 0); n != -ENOENT {
		t.Fatalf("cross-namespace Read = %d, want -ENOENT", n)
	}
	d.Write(io, "obj", []byte("tenant"), 0)
	d.SetNamespace(io, "")
	buf := make([]byte, 16)
	if n := d.Read(io, "obj", buf, 0); string(buf[:n]) != "default" {
		t.Fatalf("default namespace read %q", buf[:n])
	}
}

func TestSnapshotRead(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	d.WriteFull(io, "obj", []byte("v1"))
	d.SnapshotObject("data", "", "obj", 7)
	d.WriteFull(io, "obj", []byte("v2-longer"))

	d.SnapSetRead(io, 7)
	buf := make([]byte, 16)
	n := d.Read(io, "obj", buf, 0)
	if string(buf[:n]) != "v1" {
		t.Fatalf("snapshot read %q", buf[:n])
	}
	d.SnapSetRead(io, 0)
	n = d.Read(io, "obj", buf, 0)
	if string(buf[:n]) != "v2-longer" {
		t.Fatalf("head read %q", buf[:n])
	}
}

func TestXattrs(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	d.WriteFull(io, "obj", []byte("x"))
	if code := d.SetXattr(io, "obj", "user.color", []byte("blue")); code != 0 {
		t.Fatalf("SetXattr: %d", code)
	}
	d.SetXattr(io, "obj", "user.size", []byte("10"))

	if n := d.GetXattr(io, "obj", "user.color", make([]byte, 1)); n != -ERANGE {
		t.Fatalf("short GetXattr = %d, want -ERANGE", n)
	}
	buf := make([]byte, 16)
	if n := d.GetXattr(io, "obj", "user.color", buf); string(buf[:n]) != "blue" {
		t.Fatalf("GetXattr %q", buf[:n])
	}

	it, code := d.XattrsOpen(io, "obj")
	if code != 0 {
		t.Fatalf("XattrsOpen: %d", code)
	}
	var names []string
	for {
		name, _, code := d.XattrsNext(it)
		if code != 0 {
			t.Fatalf("XattrsNext: %d", code)
		}
		if name == "" {
			break
		}
		names = append(names, name)
	}
	d.XattrsEnd(it)
	if strings.Join(names, ",") != "user.color,user.size" {
		t.Fatalf("names = %v", names)
	}

	if code := d.RmXattr(io, "obj", "user.color"); code != 0 {
		t.Fatalf("RmXattr: %d", code)
	}
	if code := d.RmXattr(io, "obj", "user.color"); code != -ENOENT {
		t.Fatalf("second RmXattr = %d, want -ENOENT", code)
	}
}

func TestListObjects(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	for _, oid := range []string{"b", "a", "c"} {
		d.WriteFull(io, oid, []byte("x"))
	}
	l, code := d.ListOpen(io)
	if code != 0 {
		t.Fatalf("ListOpen: %d", code)
	}
	var got []string
	for {
		entry, code := d.ListNext(l)
		if code == -ENOENT {
			break
		}
		if code != 0 {
			t.Fatalf("ListNext: %d", code)
		}
		got = append(got, entry)
	}
	d.ListClose(l)
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("entries = %v", got)
	}
	cnt := d.Counters()
	if cnt.ListsOpened != cnt.ListsClosed {
		t.Fatalf("list handles leak: %+v", cnt)
	}
}

func TestPoolListGrowRetry(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	d.SeedPool("alpha")
	d.SeedPool("beta")

	need := d.PoolList(c, nil)
	if need <= 0 {
		t.Fatalf("PoolList sizing = %d", need)
	}
	buf := make([]byte, need)
	if n := d.PoolList(c, buf); n != need {
		t.Fatalf("PoolList fill = %d, want %d", n, need)
	}
	var names []string
	for _, part := range bytes.Split(buf, []byte{0}) {
		if len(part) > 0 {
			names = append(names, string(part))
		}
	}
	if strings.Join(names, ",") != "alpha,beta" {
		t.Fatalf("pools = %v", names)
	}
}

func TestPoolCreateDeleteLookup(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)

	if code := d.PoolCreate(c, "p1"); code != 0 {
		t.Fatalf("PoolCreate: %d", code)
	}
	if code := d.PoolCreate(c, "p1"); code != -EEXIST {
		t.Fatalf("duplicate PoolCreate = %d, want -EEXIST", code)
	}
	if id := d.PoolLookup(c, "p1"); id <= 0 {
		t.Fatalf("PoolLookup = %d", id)
	}
	if id := d.PoolLookup(c, "nope"); id != -ENOENT {
		t.Fatalf("missing PoolLookup = %d, want -ENOENT", id)
	}
	if code := d.PoolDelete(c, "p1"); code != 0 {
		t.Fatalf("PoolDelete: %d", code)
	}
	if code := d.PoolDelete(c, "p1"); code != -ENOENT {
		t.Fatalf("second PoolDelete = %d, want -ENOENT", code)
	}
}

func TestPoolReverseLookup(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	d.SeedPool("storage")
	id := d.PoolLookup(c, "storage")

	if n := d.PoolReverseLookup(c, id, make([]byte, 2)); n != -ERANGE {
		t.Fatalf("short buffer = %d, want -ERANGE", n)
	}
	buf := make([]byte, 64)
	n := d.PoolReverseLookup(c, id, buf)
	if n != len("storage") || string(buf[:n]) != "storage" {
		t.Fatalf("PoolReverseLookup = %d %q", n, buf[:n])
	}
	if n := d.PoolReverseLookup(c, 9999, buf); n != -ENOENT {
		t.Fatalf("unknown id = %d, want -ENOENT", n)
	}
}

func TestFSIDGrowRetry(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)

	if n := d.FSID(c, make([]byte, 4)); n != -ERANGE {
		t.Fatalf("short FSID = %d, want -ERANGE", n)
	}
	buf := make([]byte, 64)
	n := d.FSID(c, buf)
	if n != 36 { // canonical uuid text
		t.Fatalf("FSID length = %d", n)
	}
}

func TestMonCommandStatus(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)

	out, status, code := d.MonCommand(c, []byte(`{"prefix":"status","format":"json"}`))
	if code != 0 {
		t.Fatalf("MonCommand = %d (%s)", code, status)
	}
	var decoded map[string]any
	if err := json.Unmarshal(d.BufData(out), &decoded); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if _, ok := decoded["health"]; !ok {
		t.Fatalf("status missing health: %v", decoded)
	}
	d.BufRelease(out)

	_, status, code = d.MonCommand(c, []byte(`{"prefix":"bogus"}`))
	if code != -EINVAL || status == "" {
		t.Fatalf("bogus command = %d (%q)", code, status)
	}

	cnt := d.Counters()
	if cnt.BufsAllocated != cnt.BufsReleased {
		t.Fatalf("buffer leak: %+v", cnt)
	}
}

func TestAioWriteReadSettles(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	done := make(chan CompletionRef, 1)
	comp, code := d.AioCreateCompletion(func(ref CompletionRef) { done <- ref })
	if code != 0 {
		t.Fatalf("AioCreateCompletion: %d", code)
	}
	if code := d.AioWrite(io, comp, "obj", []byte("async"), 0); code != 0 {
		t.Fatalf("AioWrite: %d", code)
	}
	select {
	case ref := <-done:
		if ref != comp {
			t.Fatalf("callback ref %d, want %d", ref, comp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
	if d.AioIsComplete(comp) == 0 {
		t.Fatal("not complete after callback")
	}
	if rc := d.AioGetReturnValue(comp); rc != 5 {
		t.Fatalf("return value = %d", rc)
	}
	d.AioRelease(comp)

	buf := make([]byte, 8)
	if n := d.Read(io, "obj", buf, 0); string(buf[:n]) != "async" {
		t.Fatalf("read back %q", buf[:n])
	}
}

func TestAioCancelBeforeDispatch(t *testing.T) {
	d, c := newConnected(t)
	defer d.Shutdown(c)
	io := openIoctx(t, d, c, "data")
	defer d.IoctxDestroy(io)

	d.SetAsyncDelay(200 * time.Millisecond)
	done := make(chan struct{})
	comp, _ := d.AioCreateCompletion(func(CompletionRef) { close(done) })
	if code := d.AioWrite(io, comp, "obj", []byte("late"), 0); code != 0 {
		t.Fatalf("AioWrite: %d", code)
	}
	if code := d.AioCancel(io, comp); code != 0 {
		t.Fatalf("AioCancel = %d, want 0", code)
	}
	<-done
	if rc := d.AioGetReturnValue(comp); rc != -ECANCELED {
		t.Fatalf("return value = %d, want -ECANCELED", rc)
	}
	// Cancel after settle reports -ENOENT.
	if code := d.AioCancel(io, comp); code != -ENOENT {
		t.Fatalf("second AioCancel = %d, want -ENOENT", code)
	}
	d.AioRelease(comp)

	// The cancelled write never lands.
	time.Sleep(300 * time.Millisecond)
	if n := d.Read(io, "obj", make([]byte, 8), 0); n != -ENOENT {
		t.Fatalf("cancelled write landed: Read = %d", n)
	}
}

func TestHandleCountersBalance(t *testing.T) {
	d, c := newConnected(t)
	io := openIoctx(t, d, c, "data")
	d.WriteFull(io, "obj", []byte("x"))

	l, _ := d.ListOpen(io)
	d.ListClose(l)
	it, _ := d.XattrsOpen(io, "obj")
	d.XattrsEnd(it)

	d.IoctxDestroy(io)
	d.Shutdown(c)

	cnt := d.Counters()
	if cnt.IoctxCreated != cnt.IoctxDestroyed ||
		cnt.ListsOpened != cnt.ListsClosed ||
		cnt.XattrItersOpened != cnt.XattrItersClosed ||
		cnt.ClustersCreated != cnt.ClustersShutdown {
		t.Fatalf("handle counters unbalanced: %+v", cnt)
	}
}
