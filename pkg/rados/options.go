package rados

import (
	"github.com/rs/zerolog"

	"github.com/gorados/gorados/internal/config"
	"github.com/gorados/gorados/internal/metrics"
	"github.com/gorados/gorados/internal/native"
)

// Option customizes a Cluster created by New.
type Option func(*Cluster)

// WithDriver selects the native driver backing the cluster handle. Without
// this option the handle runs against the in-process simulation driver,
// which is what tests and local development want; production embeds supply
// their own driver here.
func WithDriver(d native.Driver) Option {
	return func(c *Cluster) {
		c.drv = d
	}
}

// WithConfig supplies the client configuration applied by Configure.
func WithConfig(cfg *config.Config) Option {
	return func(c *Cluster) {
		c.cfg = cfg
	}
}

// WithLogger attaches a structured logger. Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cluster) {
		c.log = l
	}
}

// WithMetrics attaches a Prometheus collector. Without it no metrics are
// recorded.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cluster) {
		c.met = m
	}
}
