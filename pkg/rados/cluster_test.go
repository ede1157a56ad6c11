package rados

import (
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/gorados/gorados/internal/config"
	"github.com/gorados/gorados/internal/metrics"
	"github.com/gorados/gorados/internal/native"
	"github.com/gorados/gorados/pkg/errors"
)

// newTestCluster returns a connected cluster over a fresh memory driver
// with one seeded pool.
func newTestCluster(t *testing.T) (*Cluster, *native.MemDriver) {
	t.Helper()
	d := native.NewMemDriver()
	t.Cleanup(d.Close)
	d.SeedPool("data")

	c, err := New(WithDriver(d), WithMetrics(metrics.NewCollector()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, d
}

// mustMemDriver unwraps the memory driver behind a test cluster.
func mustMemDriver(t *testing.T, c *Cluster) *native.MemDriver {
	t.Helper()
	d, ok := c.drv.(*native.MemDriver)
	if !ok {
		t.Fatalf("driver is %T, not a memory driver", c.drv)
	}
	return d
}

func TestLifecycleStates(t *testing.T) {
	d := native.NewMemDriver()
	defer d.Close()

	c, err := New(WithDriver(d))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.State() != StateUnconfigured {
		t.Fatalf("state = %v", c.State())
	}

	// Connect before Configure is an ordering violation.
	if err := c.Connect(); !errors.IsInvalidState(err) {
		t.Fatalf("Connect unconfigured = %v, want INVALID_STATE", err)
	}

	if err := c.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if c.State() != StateConfigured {
		t.Fatalf("state = %v", c.State())
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %v", c.State())
	}

	// Reconfiguring a live session is rejected.
	if err := c.Configure(); !errors.IsInvalidState(err) {
		t.Fatalf("Configure while connected = %v, want INVALID_STATE", err)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %v", c.State())
	}
}

func TestShutdownIdempotentAndLeakFree(t *testing.T) {
	d := native.NewMemDriver()
	defer d.Close()
	d.SeedPool("data")

	c, _ := New(WithDriver(d))
	if err := c.Configure(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.OpenIOContext("data"); err != nil {
		t.Fatal(err)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	cnt := d.Counters()
	if cnt.ClustersCreated != 1 || cnt.ClustersShutdown != 1 {
		t.Fatalf("session counters: %+v", cnt)
	}
	// Shutdown closed the straggling io context.
	if cnt.IoctxCreated != cnt.IoctxDestroyed {
		t.Fatalf("io context leak: %+v", cnt)
	}
}

func TestOpenIOContextBeforeConnectMakesNoNativeCalls(t *testing.T) {
	d := native.NewMemDriver()
	defer d.Close()

	c, _ := New(WithDriver(d))
	if err := c.Configure(); err != nil {
		t.Fatal(err)
	}

	_, err := c.OpenIOContext("data")
	if !errors.IsInvalidState(err) {
		t.Fatalf("err = %v, want INVALID_STATE", err)
	}
	if cnt := d.Counters(); cnt.IoctxCreateCalls != 0 {
		t.Fatalf("native ioctx create was called %d times", cnt.IoctxCreateCalls)
	}
	_ = c.Shutdown()
}

func TestConfigureRejectedOption(t *testing.T) {
	d := native.NewMemDriver()
	defer d.Close()

	cfg := config.DefaultConfig()
	cfg.Cluster.Options = map[string]string{"bad key": "x"}

	c, err := New(WithDriver(d), WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Configure()
	var re *errors.RadosError
	if !stderrors.As(err, &re) || re.Code != errors.ErrCodeInvalid {
		t.Fatalf("err = %v, want INVALID", err)
	}
	_ = c.Shutdown()
}

func TestConnectFailureAllowsRetry(t *testing.T) {
	d := native.NewMemDriver()
	defer d.Close()
	d.FailNext("connect", native.ECONNREFUSED)

	c, _ := New(WithDriver(d))
	if err := c.Configure(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(); err == nil {
		t.Fatal("expected connect failure")
	}
	if c.State() != StateConfigured {
		t.Fatalf("state after failed connect = %v", c.State())
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	_ = c.Shutdown()
}

func TestFSID(t *testing.T) {
	c, _ := newTestCluster(t)
	id, err := c.FSID()
	if err != nil {
		t.Fatalf("FSID: %v", err)
	}
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("fsid %q is not a canonical uuid", id)
	}
}

func TestClusterStat(t *testing.T) {
	c, _ := newTestCluster(t)
	io, err := c.OpenIOContext("data")
	if err != nil {
		t.Fatal(err)
	}
	defer io.Close()
	if err := io.WriteFull("obj", make([]byte, 2048)); err != nil {
		t.Fatal(err)
	}

	st, err := c.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.NumObjects != 1 || st.KBUsed == 0 {
		t.Fatalf("usage = %+v", st)
	}
}

func TestPoolAdministration(t *testing.T) {
	c, _ := newTestCluster(t)

	if err := c.CreatePool("archive"); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := c.CreatePool("archive"); !errors.IsExists(err) {
		t.Fatalf("duplicate CreatePool = %v, want EXISTS", err)
	}

	pools, err := c.ListPools()
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if strings.Join(pools, ",") != "archive,data" {
		t.Fatalf("pools = %v", pools)
	}

	id, found, err := c.LookupPool("archive")
	if err != nil || !found || id <= 0 {
		t.Fatalf("LookupPool = %d %v %v", id, found, err)
	}
	name, found, err := c.ReverseLookupPool(id)
	if err != nil || !found || name != "archive" {
		t.Fatalf("ReverseLookupPool = %q %v %v", name, found, err)
	}

	// Absent pool is not an error, either way round.
	_, found, err = c.LookupPool("nope")
	if err != nil || found {
		t.Fatalf("missing LookupPool = %v %v", found, err)
	}
	if _, found, err = c.ReverseLookupPool(9999); err != nil || found {
		t.Fatalf("missing ReverseLookupPool = %v %v", found, err)
	}

	if err := c.DeletePool("archive"); err != nil {
		t.Fatalf("DeletePool: %v", err)
	}
	if _, found, _ := c.LookupPool("archive"); found {
		t.Fatal("pool still visible after delete")
	}
}

func TestMonCommand(t *testing.T) {
	c, d := newTestCluster(t)

	out, err := c.MonCommand(NewMonCommand("status"))
	if err != nil {
		t.Fatalf("MonCommand: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if _, ok := decoded["health"]; !ok {
		t.Fatalf("status response missing health: %v", decoded)
	}

	// Unknown prefixes surface the native status line.
	_, err = c.MonCommand(NewMonCommand("frobnicate"))
	if err == nil || !strings.Contains(err.Error(), "frobnicate") {
		t.Fatalf("err = %v, want status mentioning the command", err)
	}

	// Library-owned response buffers are always returned.
	cnt := d.Counters()
	if cnt.BufsAllocated != cnt.BufsReleased {
		t.Fatalf("buffer leak: %+v", cnt)
	}
}

func TestPingMonitor(t *testing.T) {
	c, _ := newTestCluster(t)
	out, err := c.PingMonitor("a")
	if err != nil {
		t.Fatalf("PingMonitor: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["mon_id"] != "a" {
		t.Fatalf("response = %v", decoded)
	}
}

func TestVersion(t *testing.T) {
	c, _ := newTestCluster(t)
	major, _, _ := c.Version()
	if major <= 0 {
		t.Fatalf("major = %d", major)
	}
}
