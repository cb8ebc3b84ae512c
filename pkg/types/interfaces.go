package types

import (
	"context"
	"time"
)

// MetricsCollector is the narrow interface the cache, worker, and
// dispatcher packages depend on so they can be exercised without pulling
// in the Prometheus exporter in internal/metrics.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, success bool)
	RecordCacheEvent(cacheName, event string) // "hit", "miss", "update", "purge", "replacement", "deletion"
	SetGauge(name string, value float64)
}

// HealthChecker exposes a component's liveness for pkg/health to aggregate.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthStatus reports a single component's health at the instant it was checked.
type HealthStatus struct {
	Name      string            `json:"name"`
	Healthy   bool              `json:"healthy"`
	Message   string            `json:"message,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
	Details   map[string]string `json:"details,omitempty"`
}

// CacheStats is the rolling performance view every one of the four
// specialized caches exposes, matching the PINT_perf_counter fields named
// in spec.md §4.2.
type CacheStats struct {
	NumEntries    uint64
	SoftLimit     uint64
	HardLimit     uint64
	Hits          uint64
	Misses        uint64
	Updates       uint64
	Purges        uint64
	Replacements  uint64
	Deletions     uint64
	Enabled       bool
}
