package cache

import (
	"sync"
	"time"

	"github.com/pvfs2/client/internal/tcache"
	"github.com/pvfs2/client/pkg/types"
)

type rcachePayload struct {
	key          rcacheKey
	dirdataIndex int64
}

// RCache remembers the dirdata shard serving a given readdir iteration
// position, per spec.md §4.2. Expiration is always disabled — entries
// live until the hard limit forces an LRU eviction — and
// types.IterateStart must never be inserted.
type RCache struct {
	mu sync.Mutex
	tc *tcache.TCache
	st *stats
}

// NewRCache constructs a readdir-position cache.
func NewRCache(interval time.Duration, depth int) *RCache {
	compare := func(key any, payload any) bool {
		return payload.(rcachePayload).key == key.(rcacheKey)
	}
	hash := func(key any, tableSize int) int {
		return hashRcacheKey(key.(rcacheKey), tableSize)
	}

	r := &RCache{
		tc: tcache.New(compare, hash, nil, 256),
		st: newStats(interval, depth),
	}
	r.tc.SetInfo(tcache.OptEnableExpiration, 0)
	return r
}

// SetLimits configures soft/hard limits. Timeout is meaningless here
// since expiration is permanently disabled.
func (r *RCache) SetLimits(soft, hard uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tc.SetInfo(tcache.OptSoftLimit, soft)
	r.tc.SetInfo(tcache.OptHardLimit, hard)
}

// SetEnabled enables or disables the cache.
func (r *RCache) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := uint(0)
	if enabled {
		v = 1
	}
	r.tc.SetInfo(tcache.OptEnable, v)
}

// Insert records the dirdata shard serving (ref, token). It is a no-op,
// not an error, when token is types.IterateStart: the sentinel identifies
// "start of directory," which has no cached position to remember.
func (r *RCache) Insert(ref types.ObjectRef, token int64, dirdataIndex int64) {
	if token == types.IterateStart {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rcacheKey{Ref: ref, Token: token}
	reclaimed, replaced, wasUpdate := r.tc.Insert(key, rcachePayload{key: key, dirdataIndex: dirdataIndex}, time.Time{})
	if reclaimed > 0 {
		r.st.purge(reclaimed)
	}
	if replaced {
		r.st.replacement()
	}
	if wasUpdate {
		r.st.update()
	}
	r.refreshGauges()
}

// Lookup returns the dirdata shard index cached for (ref, token).
func (r *RCache) Lookup(ref types.ObjectRef, token int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rcacheKey{Ref: ref, Token: token}
	e, status := r.tc.Lookup(key)
	if status != tcache.StatusOK {
		r.st.miss()
		return 0, false
	}
	r.st.hit()
	return r.tc.Payload(e).(rcachePayload).dirdataIndex, true
}

// Invalidate drops the cached position for (ref, token); positions
// cached for ref under other tokens stay in the cache.
func (r *RCache) Invalidate(ref types.ObjectRef, token int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rcacheKey{Ref: ref, Token: token}
	if e, status := r.tc.Lookup(key); status != tcache.StatusMiss {
		r.tc.Delete(e)
		r.st.deletion()
	}
	r.refreshGauges()
}

func (r *RCache) refreshGauges() {
	r.st.setGauges(uint(r.tc.NumEntries()), r.tc.GetInfo(tcache.OptSoftLimit), r.tc.GetInfo(tcache.OptHardLimit), r.tc.GetInfo(tcache.OptEnable) != 0)
}

// Stats returns a snapshot of the rolling counters.
func (r *RCache) Stats() types.CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Snapshot()
}
