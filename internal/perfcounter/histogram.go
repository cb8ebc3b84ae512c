// Package perfcounter implements the rolling-window counter histogram
// every cache and the worker manager report statistics through, grounded
// on original_source/src/common/misc/pint-perf-counter.c's three update
// modes (PINT_PERF_SET, PINT_PERF_ADD, PINT_PERF_PRESERVE).
package perfcounter

import (
	"sync"
	"time"
)

// Mode controls how a named counter behaves across a rollover.
type Mode int

const (
	// Add accumulates; rollover starts the next bucket at zero.
	Add Mode = iota
	// Set replaces the current value outright; rollover starts the next
	// bucket at zero, same as Add, but callers write absolute values
	// instead of deltas.
	Set
	// Preserve carries the current value forward into the next bucket
	// instead of resetting to zero — used for gauges like NUM_ENTRIES
	// that describe present state rather than an event count.
	Preserve
)

// History is a named set of rolling-window counters. Each counter keeps
// `history` rolled-over samples plus the live, not-yet-rolled bucket.
// Safe for concurrent use.
type History struct {
	mu       sync.Mutex
	interval time.Duration
	depth    int
	now      func() time.Time

	modes    map[string]Mode
	current  map[string]int64
	rolled   map[string][]int64 // index 0 = most recently rolled
	lastRoll time.Time
}

// Option configures New.
type Option func(*History)

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New creates a History rolling over every interval, retaining depth
// historical samples per counter.
func New(interval time.Duration, depth int, opts ...Option) *History {
	if depth <= 0 {
		depth = 6
	}
	h := &History{
		interval: interval,
		depth:    depth,
		now:      time.Now,
		modes:    make(map[string]Mode),
		current:  make(map[string]int64),
		rolled:   make(map[string][]int64),
	}
	for _, o := range opts {
		o(h)
	}
	h.lastRoll = h.now()
	return h
}

// Register declares a counter's update mode. Counters used without being
// registered default to Add.
func (h *History) Register(name string, mode Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modes[name] = mode
}

func (h *History) modeOf(name string) Mode {
	if m, ok := h.modes[name]; ok {
		return m
	}
	return Add
}

// Set assigns the absolute current value of a Set or Preserve counter.
func (h *History) Set(name string, value int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maybeRollLocked()
	h.current[name] = value
}

// Add increments an Add counter by delta (delta may be negative).
func (h *History) Add(name string, delta int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maybeRollLocked()
	h.current[name] += delta
}

// Rollover forces an immediate rollover regardless of the configured
// interval; used by tests and by an explicit "roll now" admin request.
func (h *History) Rollover() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollLocked()
}

func (h *History) maybeRollLocked() {
	if h.interval <= 0 {
		return
	}
	if h.now().Sub(h.lastRoll) >= h.interval {
		h.rollLocked()
	}
}

func (h *History) rollLocked() {
	for name, value := range h.current {
		buf := h.rolled[name]
		buf = append([]int64{value}, buf...)
		if len(buf) > h.depth {
			buf = buf[:h.depth]
		}
		h.rolled[name] = buf
		if h.modeOf(name) != Preserve {
			h.current[name] = 0
		}
	}
	h.lastRoll = h.now()
}

// Current returns a counter's live (not-yet-rolled) value.
func (h *History) Current(name string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current[name]
}

// Snapshot returns the rolled historical samples for name, most recent
// first, plus the live current value as element -1 conceptually (callers
// needing the live value should also call Current).
func (h *History) Snapshot(name string) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.rolled[name]))
	copy(out, h.rolled[name])
	return out
}

// Names returns every counter name that has been written at least once.
func (h *History) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]struct{})
	for n := range h.current {
		seen[n] = struct{}{}
	}
	for n := range h.rolled {
		seen[n] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	return names
}
