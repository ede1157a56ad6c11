// Package metrics exposes Prometheus instrumentation for the binding:
// operation counters and latencies, pending completions, and pinned bytes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so multiple cluster handles in one
// process never collide on metric registration.
type Collector struct {
	registry *prometheus.Registry

	operationCounter   *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	errorCounter       *prometheus.CounterVec
	pendingCompletions prometheus.Gauge
	pinnedBytes        prometheus.Gauge
	openIOContexts     prometheus.Gauge
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gorados",
			Name:      "operations_total",
			Help:      "Total operations issued, by operation name.",
		}, []string{"operation"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gorados",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency, by operation name.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"operation"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gorados",
			Name:      "operation_errors_total",
			Help:      "Failed operations, by operation name and error code.",
		}, []string{"operation", "code"}),
		pendingCompletions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gorados",
			Name:      "pending_completions",
			Help:      "Asynchronous operations currently in flight.",
		}),
		pinnedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gorados",
			Name:      "pinned_bytes",
			Help:      "Caller-owned bytes pinned by pending completions.",
		}),
		openIOContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gorados",
			Name:      "open_io_contexts",
			Help:      "I/O contexts currently open.",
		}),
	}

	registry.MustRegister(
		c.operationCounter,
		c.operationDuration,
		c.errorCounter,
		c.pendingCompletions,
		c.pinnedBytes,
		c.openIOContexts,
	)
	return c
}

// ObserveOperation records one completed operation.
func (c *Collector) ObserveOperation(op string, d time.Duration, errCode string) {
	if c == nil {
		return
	}
	c.operationCounter.WithLabelValues(op).Inc()
	c.operationDuration.WithLabelValues(op).Observe(d.Seconds())
	if errCode != "" {
		c.errorCounter.WithLabelValues(op, errCode).Inc()
	}
}

// CompletionStarted and CompletionSettled bracket an asynchronous operation.
func (c *Collector) CompletionStarted() {
	if c != nil {
		c.pendingCompletions.Inc()
	}
}

func (c *Collector) CompletionSettled() {
	if c != nil {
		c.pendingCompletions.Dec()
	}
}

// SetPinnedBytes publishes the pin registry's current total.
func (c *Collector) SetPinnedBytes(n int64) {
	if c != nil {
		c.pinnedBytes.Set(float64(n))
	}
}

// IOContextOpened and IOContextClosed bracket an I/O context's lifetime.
func (c *Collector) IOContextOpened() {
	if c != nil {
		c.openIOContexts.Inc()
	}
}

func (c *Collector) IOContextClosed() {
	if c != nil {
		c.openIOContexts.Dec()
	}
}

// Handler returns the /metrics handler for this collector's registry. The
// caller decides whether and where to serve it.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
