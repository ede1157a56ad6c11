// Package config holds the cluster client configuration: identity, config
// file, verbatim native options, and binding-level tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the complete client configuration.
type Config struct {
	Cluster CephConfig    `yaml:"cluster"`
	IO      IOConfig      `yaml:"io"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// CephConfig identifies the cluster and how to reach it.
type CephConfig struct {
	// Name is the cluster name, e.g. "ceph".
	Name string `yaml:"name"`
	// User is the client entity, e.g. "client.admin".
	User string `yaml:"user"`
	// ConfFile is an optional path loaded by the native config parser.
	ConfFile string `yaml:"conf_file"`
	// Options are key/value pairs handed verbatim to the native parser,
	// which is the sole authority on their validity.
	Options map[string]string `yaml:"options"`
	// ConnectTimeout bounds Connect; zero means wait indefinitely.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// IOConfig holds binding-level I/O tunables.
type IOConfig struct {
	// MaxInFlight caps concurrently pending asynchronous writes per
	// object writer.
	MaxInFlight int `yaml:"max_in_flight"`
	// ChunkSize is the stripe size used by object readers and writers.
	ChunkSize int `yaml:"chunk_size"`
	// OperationTimeout bounds individual waits; zero means none.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig controls the Prometheus collector.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // optional /metrics listen address
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() *Config {
	return &Config{
		Cluster: CephConfig{
			Name:           "ceph",
			User:           "client.admin",
			Options:        map[string]string{},
			ConnectTimeout: 30 * time.Second,
		},
		IO: IOConfig{
			MaxInFlight:      8,
			ChunkSize:        4 << 20,
			OperationTimeout: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the receiver.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays configuration from GORADOS_* environment variables.
func (c *Config) LoadFromEnv() error {
	if val := os.Getenv("GORADOS_CLUSTER"); val != "" {
		c.Cluster.Name = val
	}
	if val := os.Getenv("GORADOS_USER"); val != "" {
		c.Cluster.User = val
	}
	if val := os.Getenv("GORADOS_CONF_FILE"); val != "" {
		c.Cluster.ConfFile = val
	}
	if val := os.Getenv("GORADOS_CONNECT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cluster.ConnectTimeout = d
		}
	}
	if val := os.Getenv("GORADOS_MAX_IN_FLIGHT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IO.MaxInFlight = n
		}
	}
	if val := os.Getenv("GORADOS_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("GORADOS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	return nil
}

// Validate checks the configuration for contradictions. Native option keys
// are deliberately not validated here; the native parser decides those.
func (c *Config) Validate() error {
	var errs []string

	if c.Cluster.User == "" {
		errs = append(errs, "cluster.user must not be empty")
	} else if !strings.Contains(c.Cluster.User, ".") {
		errs = append(errs, fmt.Sprintf("cluster.user %q must be of the form type.id (e.g. client.admin)", c.Cluster.User))
	}
	if c.Cluster.ConnectTimeout < 0 {
		errs = append(errs, "cluster.connect_timeout must not be negative")
	}
	if c.IO.MaxInFlight <= 0 {
		errs = append(errs, "io.max_in_flight must be positive")
	}
	if c.IO.ChunkSize <= 0 {
		errs = append(errs, "io.chunk_size must be positive")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load builds the effective configuration: defaults, then the optional file,
// then the environment, then validation.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
