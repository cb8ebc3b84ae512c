package cache

import (
	"time"

	"github.com/pvfs2/client/internal/perfcounter"
	"github.com/pvfs2/client/pkg/types"
)

const (
	counterHits         = "hits"
	counterMisses       = "misses"
	counterUpdates      = "updates"
	counterPurges       = "purges"
	counterReplacements = "replacements"
	counterDeletions    = "deletions"
	counterNumEntries   = "num_entries"
	counterSoftLimit    = "soft_limit"
	counterHardLimit    = "hard_limit"
	counterEnabled      = "enabled"
)

// stats wraps a perfcounter.History with the counter family every
// specialized cache reports, per spec.md §4.2's bullet list.
type stats struct {
	hist *perfcounter.History
}

func newStats(interval time.Duration, depth int, opts ...perfcounter.Option) *stats {
	h := perfcounter.New(interval, depth, opts...)
	h.Register(counterHits, perfcounter.Add)
	h.Register(counterMisses, perfcounter.Add)
	h.Register(counterUpdates, perfcounter.Add)
	h.Register(counterPurges, perfcounter.Add)
	h.Register(counterReplacements, perfcounter.Add)
	h.Register(counterDeletions, perfcounter.Add)
	h.Register(counterNumEntries, perfcounter.Preserve)
	h.Register(counterSoftLimit, perfcounter.Preserve)
	h.Register(counterHardLimit, perfcounter.Preserve)
	h.Register(counterEnabled, perfcounter.Preserve)
	return &stats{hist: h}
}

func (s *stats) hit()         { s.hist.Add(counterHits, 1) }
func (s *stats) miss()        { s.hist.Add(counterMisses, 1) }
func (s *stats) update()      { s.hist.Add(counterUpdates, 1) }
func (s *stats) purge(n int)  { s.hist.Add(counterPurges, int64(n)) }
func (s *stats) replacement() { s.hist.Add(counterReplacements, 1) }
func (s *stats) deletion()    { s.hist.Add(counterDeletions, 1) }

func (s *stats) setGauges(numEntries, softLimit, hardLimit uint, enabled bool) {
	s.hist.Set(counterNumEntries, int64(numEntries))
	s.hist.Set(counterSoftLimit, int64(softLimit))
	s.hist.Set(counterHardLimit, int64(hardLimit))
	if enabled {
		s.hist.Set(counterEnabled, 1)
	} else {
		s.hist.Set(counterEnabled, 0)
	}
}

// Snapshot returns the current counters in the shape internal/metrics
// mirrors into Prometheus.
func (s *stats) Snapshot() types.CacheStats {
	return types.CacheStats{
		NumEntries:   uint64(s.hist.Current(counterNumEntries)),
		SoftLimit:    uint64(s.hist.Current(counterSoftLimit)),
		HardLimit:    uint64(s.hist.Current(counterHardLimit)),
		Hits:         uint64(s.hist.Current(counterHits)),
		Misses:       uint64(s.hist.Current(counterMisses)),
		Updates:      uint64(s.hist.Current(counterUpdates)),
		Purges:       uint64(s.hist.Current(counterPurges)),
		Replacements: uint64(s.hist.Current(counterReplacements)),
		Deletions:    uint64(s.hist.Current(counterDeletions)),
		Enabled:      s.hist.Current(counterEnabled) != 0,
	}
}
