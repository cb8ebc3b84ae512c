package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteRetryStrategySucceedsAfterTransientFailures(t *testing.T) {
	config := DefaultConfig()
	config.RetryConfig.MaxAttempts = 3
	config.RetryConfig.InitialDelay = time.Millisecond
	config.RetryConfig.Jitter = false
	m := NewManager(config)

	attempts := 0
	err := m.Execute(context.Background(), "device", "reopen", func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("device busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteFailFastMakesExactlyOneAttempt(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyFailFast
	m := NewManager(config)

	attempts := 0
	errBoom := errors.New("boom")
	err := m.Execute(context.Background(), "device", "reopen", func(ctx context.Context) error {
		attempts++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected the underlying error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt under fail-fast, got %d", attempts)
	}
}

func TestExecuteCircuitBreakerStrategyTripsAfterConsecutiveFailures(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyCircuitBreaker
	m := NewManager(config)

	errBoom := errors.New("boom")
	for i := 0; i < 10; i++ {
		m.Execute(context.Background(), "device", "reopen", func(ctx context.Context) error {
			return errBoom
		})
	}

	stats := m.Stats()
	s, ok := stats["device.reopen"]
	if !ok {
		t.Fatal("expected a breaker to have been created for device.reopen")
	}
	if s.State.String() != "OPEN" {
		t.Fatalf("expected the breaker to be open after repeated failures, got %s", s.State)
	}
}

func TestDefaultConfigUsesRetryStrategy(t *testing.T) {
	config := DefaultConfig()
	if config.DefaultStrategy != StrategyRetry {
		t.Fatalf("expected DefaultConfig to select StrategyRetry, got %v", config.DefaultStrategy)
	}
}
