// Package recovery chooses between retry-with-backoff and circuit-breaker
// isolation when an operation fails, and reports every outcome through the
// gossip sink. The supervisor (internal/supervisor) uses it around its
// device-reopen loop; the dispatcher does not, since worker.Manager already
// wires internal/circuit directly onto every posted callout.
package recovery

import (
	"context"
	"time"

	"github.com/pvfs2/client/internal/circuit"
	"github.com/pvfs2/client/internal/gossip"
	"github.com/pvfs2/client/pkg/retry"
)

// Strategy selects how Manager.Execute handles a failing operation.
type Strategy int

const (
	// StrategyRetry retries with exponential backoff (pkg/retry).
	StrategyRetry Strategy = iota

	// StrategyCircuitBreaker runs the operation through a named
	// internal/circuit breaker instead of retrying it directly.
	StrategyCircuitBreaker

	// StrategyFailFast makes exactly one attempt.
	StrategyFailFast
)

func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyCircuitBreaker:
		return "circuit_breaker"
	case StrategyFailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// Config configures a Manager.
type Config struct {
	DefaultStrategy      Strategy
	RetryConfig          retry.Config
	CircuitBreakerConfig circuit.Config
	Gossip               *gossip.Logger
}

// DefaultConfig returns sensible defaults: retry with the package's
// standard backoff curve.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy: StrategyRetry,
		RetryConfig:     retry.DefaultConfig(),
	}
}

// Manager executes operations under a recovery strategy, tracking one
// named circuit breaker per component/operation pair.
type Manager struct {
	config   Config
	breakers *circuit.Manager
}

// NewManager constructs a Manager. A zero-value Config.CircuitBreakerConfig
// falls back to a generic "any error is a failure" breaker; the
// PVFS-specific classification in circuit.NewIOBreakerConfig is for
// internal/worker's wire-facing callouts, not this package's broader use.
func NewManager(config Config) *Manager {
	cbConfig := config.CircuitBreakerConfig
	if cbConfig.ReadyToTrip == nil {
		cbConfig = defaultBreakerConfig()
	}
	return &Manager{
		config:   config,
		breakers: circuit.NewManager(cbConfig),
	}
}

func defaultBreakerConfig() circuit.Config {
	return circuit.Config{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool { return err == nil },
	}
}

// Execute runs fn under the manager's default strategy, logging the
// outcome through Gossip (if wired) tagged with component/operation.
func (m *Manager) Execute(ctx context.Context, component, operation string, fn func(context.Context) error) error {
	var err error
	switch m.config.DefaultStrategy {
	case StrategyCircuitBreaker:
		breaker := m.breakers.GetBreaker(component + "." + operation)
		err = breaker.ExecuteWithContext(ctx, fn)
	case StrategyFailFast:
		err = fn(ctx)
	default:
		retryer := retry.New(m.config.RetryConfig)
		err = retryer.DoWithContext(ctx, fn)
	}

	m.log(component, operation, err)
	return err
}

func (m *Manager) log(component, operation string, err error) {
	if m.config.Gossip == nil {
		return
	}
	fields := map[string]interface{}{"component": component, "operation": operation}
	if err != nil {
		fields["error"] = err.Error()
		m.config.Gossip.Log(gossip.FacilitySupervisor, "recovery attempt failed", fields)
		return
	}
	m.config.Gossip.Log(gossip.FacilitySupervisor, "recovery attempt succeeded", fields)
}

// Stats reports the current state of every breaker the manager has
// opened so far, keyed by "component.operation".
func (m *Manager) Stats() map[string]circuit.CircuitBreakerStats {
	return m.breakers.GetStats()
}

