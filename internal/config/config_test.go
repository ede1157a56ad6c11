package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gorados.yaml")
	body := `
cluster:
  name: prod
  user: client.backup
  connect_timeout: 5s
  options:
    mon_host: "10.0.0.1,10.0.0.2"
io:
  max_in_flight: 16
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Cluster.Name != "prod" || cfg.Cluster.User != "client.backup" {
		t.Fatalf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Cluster.ConnectTimeout != 5*time.Second {
		t.Fatalf("connect_timeout = %v", cfg.Cluster.ConnectTimeout)
	}
	if cfg.Cluster.Options["mon_host"] != "10.0.0.1,10.0.0.2" {
		t.Fatalf("options = %v", cfg.Cluster.Options)
	}
	if cfg.IO.MaxInFlight != 16 {
		t.Fatalf("max_in_flight = %d", cfg.IO.MaxInFlight)
	}
	// File did not touch chunk_size; the default survives.
	if cfg.IO.ChunkSize != 4<<20 {
		t.Fatalf("chunk_size = %d", cfg.IO.ChunkSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("merged config invalid: %v", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromFile("/nonexistent/gorados.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("GORADOS_USER", "client.env")
	t.Setenv("GORADOS_MAX_IN_FLIGHT", "32")
	t.Setenv("GORADOS_CONNECT_TIMEOUT", "2s")

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Cluster.User != "client.env" {
		t.Fatalf("user = %q", cfg.Cluster.User)
	}
	if cfg.IO.MaxInFlight != 32 {
		t.Fatalf("max_in_flight = %d", cfg.IO.MaxInFlight)
	}
	if cfg.Cluster.ConnectTimeout != 2*time.Second {
		t.Fatalf("connect_timeout = %v", cfg.Cluster.ConnectTimeout)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty user", func(c *Config) { c.Cluster.User = "" }, "cluster.user"},
		{"malformed user", func(c *Config) { c.Cluster.User = "admin" }, "type.id"},
		{"zero in-flight", func(c *Config) { c.IO.MaxInFlight = 0 }, "max_in_flight"},
		{"negative timeout", func(c *Config) { c.Cluster.ConnectTimeout = -time.Second }, "connect_timeout"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
