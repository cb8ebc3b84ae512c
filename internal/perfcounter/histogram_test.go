package perfcounter

import (
	"testing"
	"time"
)

func TestAddAccumulatesWithinInterval(t *testing.T) {
	now := time.Unix(0, 0)
	h := New(300*time.Second, 6, WithClock(func() time.Time { return now }))
	h.Add("hits", 1)
	h.Add("hits", 2)
	if got := h.Current("hits"); got != 3 {
		t.Fatalf("expected accumulated value 3, got %d", got)
	}
}

func TestRolloverResetsAddCounterButKeepsHistory(t *testing.T) {
	now := time.Unix(0, 0)
	h := New(300*time.Second, 6, WithClock(func() time.Time { return now }))
	h.Register("hits", Add)
	h.Add("hits", 5)
	h.Rollover()

	if got := h.Current("hits"); got != 0 {
		t.Fatalf("expected Add counter to reset to 0 after rollover, got %d", got)
	}
	snap := h.Snapshot("hits")
	if len(snap) != 1 || snap[0] != 5 {
		t.Fatalf("expected rolled history [5], got %v", snap)
	}
}

func TestPreserveCounterSurvivesRollover(t *testing.T) {
	now := time.Unix(0, 0)
	h := New(300*time.Second, 6, WithClock(func() time.Time { return now }))
	h.Register("num_entries", Preserve)
	h.Set("num_entries", 42)
	h.Rollover()

	if got := h.Current("num_entries"); got != 42 {
		t.Fatalf("expected preserve counter to carry forward, got %d", got)
	}
}

func TestHistoryDepthIsBounded(t *testing.T) {
	now := time.Unix(0, 0)
	h := New(time.Second, 3, WithClock(func() time.Time { return now }))
	h.Register("hits", Add)
	for i := 0; i < 5; i++ {
		h.Add("hits", 1)
		h.Rollover()
	}
	snap := h.Snapshot("hits")
	if len(snap) != 3 {
		t.Fatalf("expected history capped at depth 3, got %d entries: %v", len(snap), snap)
	}
}

func TestAutomaticRolloverAfterInterval(t *testing.T) {
	now := time.Unix(0, 0)
	h := New(10*time.Second, 6, WithClock(func() time.Time { return now }))
	h.Register("hits", Add)
	h.Add("hits", 1)

	now = now.Add(11 * time.Second)
	h.Add("hits", 1) // this write should trigger the rollover first

	snap := h.Snapshot("hits")
	if len(snap) != 1 || snap[0] != 1 {
		t.Fatalf("expected automatic rollover to have rolled the first sample, got %v", snap)
	}
	if got := h.Current("hits"); got != 1 {
		t.Fatalf("expected new bucket to contain only the post-rollover add, got %d", got)
	}
}
