// Package status decodes the monitor "status" report into typed form.
package status

import (
	"encoding/json"
	"fmt"

	"github.com/gorados/gorados/pkg/rados"
)

// Health levels reported by the monitors.
const (
	HealthOK   = "HEALTH_OK"
	HealthWarn = "HEALTH_WARN"
	HealthErr  = "HEALTH_ERR"
)

// ClusterStatus is the decoded monitor status report.
type ClusterStatus struct {
	FSID   string `json:"fsid"`
	Health Health `json:"health"`
	MonMap MonMap `json:"monmap"`
	OSDMap OSDMap `json:"osdmap"`
	PGMap  PGMap  `json:"pgmap"`
}

// Health summarizes cluster health and any active checks.
type Health struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one named, active health condition.
type HealthCheck struct {
	Severity string `json:"severity"`
	Summary  struct {
		Message string `json:"message"`
	} `json:"summary"`
}

// MonMap describes the monitor quorum.
type MonMap struct {
	Epoch int `json:"epoch"`
	Mons  []struct {
		Name string `json:"name"`
		Rank int    `json:"rank"`
		Addr string `json:"addr"`
	} `json:"mons"`
}

// OSDMap summarizes OSD membership.
type OSDMap struct {
	Epoch     int `json:"epoch"`
	NumOSDs   int `json:"num_osds"`
	NumUpOSDs int `json:"num_up_osds"`
	NumInOSDs int `json:"num_in_osds"`
}

// PGMap summarizes data placement.
type PGMap struct {
	NumPools   int `json:"num_pools"`
	NumObjects int `json:"num_objects"`
}

// Healthy reports whether the cluster is at HEALTH_OK.
func (s *ClusterStatus) Healthy() bool {
	return s.Health.Status == HealthOK
}

// Parse decodes a raw status response body.
func Parse(body []byte) (*ClusterStatus, error) {
	var st ClusterStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode status report: %w", err)
	}
	return &st, nil
}

// Get issues the status command to the monitors and decodes the response.
func Get(c *rados.Cluster) (*ClusterStatus, error) {
	body, err := c.MonCommand(rados.NewMonCommand("status"))
	if err != nil {
		return nil, fmt.Errorf("query cluster status: %w", err)
	}
	return Parse(body)
}
