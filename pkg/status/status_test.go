package status

import (
	"testing"

	"github.com/gorados/gorados/internal/native"
	"github.com/gorados/gorados/pkg/rados"
)

func TestParse(t *testing.T) {
	body := []byte(`{
		"fsid": "0e4f31f9-2b83-4d5e-8f5a-1c9e55a0b6f1",
		"health": {
			"status": "HEALTH_WARN",
			"checks": {
				"OSD_DOWN": {
					"severity": "HEALTH_WARN",
					"summary": {"message": "1 osd down"}
				}
			}
		},
		"monmap": {"epoch": 4, "mons": [{"name": "a", "rank": 0, "addr": "10.0.0.1:6789"}]},
		"osdmap": {"epoch": 120, "num_osds": 3, "num_up_osds": 2, "num_in_osds": 3},
		"pgmap": {"num_pools": 2, "num_objects": 17}
	}`)

	st, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.Healthy() {
		t.Fatal("HEALTH_WARN reported as healthy")
	}
	if st.Health.Checks["OSD_DOWN"].Summary.Message != "1 osd down" {
		t.Fatalf("checks = %+v", st.Health.Checks)
	}
	if st.MonMap.Epoch != 4 || len(st.MonMap.Mons) != 1 || st.MonMap.Mons[0].Name != "a" {
		t.Fatalf("monmap = %+v", st.MonMap)
	}
	if st.OSDMap.NumUpOSDs != 2 {
		t.Fatalf("osdmap = %+v", st.OSDMap)
	}
	if st.PGMap.NumObjects != 17 {
		t.Fatalf("pgmap = %+v", st.PGMap)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGetAgainstCluster(t *testing.T) {
	d := native.NewMemDriver()
	defer d.Close()
	d.SeedPool("data")

	c, err := rados.New(rados.WithDriver(d))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Configure(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Shutdown()

	st, err := Get(c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !st.Healthy() {
		t.Fatalf("simulated cluster unhealthy: %+v", st.Health)
	}
	if st.FSID == "" {
		t.Fatal("fsid missing")
	}
	fsid, err := c.FSID()
	if err != nil {
		t.Fatal(err)
	}
	if st.FSID != fsid {
		t.Fatalf("status fsid %q != cluster fsid %q", st.FSID, fsid)
	}
	if st.PGMap.NumPools != 1 {
		t.Fatalf("num_pools = %d", st.PGMap.NumPools)
	}
}
