// Package metrics exports an operation counter and duration histogram, a
// per-cache event counter and named gauges through a Prometheus registry,
// served at Config.Path alongside any handlers the caller mounts.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pvfs2/client/pkg/types"
)

// Config controls the exporter's namespace and HTTP surface.
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
	Subsystem string
}

// Collector implements types.MetricsCollector over a Prometheus
// registry, so the worker manager and the four caches can be wired to
// real metrics without importing Prometheus themselves.
type Collector struct {
	mu     sync.RWMutex
	config *Config

	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheEventCounter *prometheus.CounterVec
	gauges            *prometheus.GaugeVec

	server *http.Server
}

// DefaultConfig returns an enabled exporter on port 8080 at /metrics;
// cmd/pvfs2-client-core replaces Port with its --metrics-port value.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "pvfs2_client",
	}
}

// NewCollector builds a Collector registered against a fresh Prometheus
// registry. A disabled config returns a Collector whose methods are all
// no-ops, so callers never need to nil-check it themselves.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{config: config, registry: prometheus.NewRegistry()}
	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "operations_total",
		Help:      "Total number of posted operations by opcode and outcome.",
	}, []string{"operation", "status"})

	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "operation_duration_seconds",
		Help:      "Service time of posted operations in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
	}, []string{"operation"})

	c.cacheEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "cache_events_total",
		Help:      "Cache hit/miss/update/purge/replacement/deletion counts by cache.",
	}, []string{"cache", "event"})

	c.gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "gauge",
		Help:      "Named point-in-time gauges (cache sizes, in-flight op counts, descriptor pool usage).",
	}, []string{"name"})

	for _, m := range []prometheus.Collector{c.operationCounter, c.operationDuration, c.cacheEventCounter, c.gauges} {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// RecordOperation implements types.MetricsCollector.
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordCacheEvent implements types.MetricsCollector.
func (c *Collector) RecordCacheEvent(cacheName, event string) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.cacheEventCounter.With(prometheus.Labels{"cache": cacheName, "event": event}).Inc()
}

// SetGauge implements types.MetricsCollector.
func (c *Collector) SetGauge(name string, value float64) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.gauges.With(prometheus.Labels{"name": name}).Set(value)
}

var _ types.MetricsCollector = (*Collector)(nil)

// Start serves /metrics, plus whatever handlers extra mounts on the same
// mux, until ctx is cancelled.
func (c *Collector) Start(ctx context.Context, extra func(*http.ServeMux)) error {
	if c.config == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	if extra != nil {
		extra(mux)
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the metrics HTTP server down immediately.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
