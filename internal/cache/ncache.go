package cache

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pvfs2/client/internal/tcache"
	"github.com/pvfs2/client/pkg/types"
)

const ncacheDefaultTimeoutEnv = "PVFS2_NCACHE_TIMEOUT_SECS"
const ncacheDefaultTimeoutSecs = 3

type ncachePayload struct {
	key    ncacheKey
	target types.ObjectRef
}

// NCache maps (parent handle, name) lookups to the resolved object
// reference, per spec.md §4.2. The hash combines parent handle, fs_id,
// and name; compare additionally checks parent and name length before a
// byte-for-byte comparison (folded here into Go's native string/struct
// equality, which already short-circuits on length).
type NCache struct {
	mu sync.Mutex
	tc *tcache.TCache
	st *stats
}

// NewNCache constructs a name cache with the default timeout read from
// PVFS2_NCACHE_TIMEOUT_SECS, falling back to 3 seconds.
func NewNCache(interval time.Duration, depth int) *NCache {
	timeout := ncacheDefaultTimeoutSecs
	if v := os.Getenv(ncacheDefaultTimeoutEnv); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = secs
		}
	}

	compare := func(key any, payload any) bool {
		return payload.(ncachePayload).key == key.(ncacheKey)
	}
	hash := func(key any, tableSize int) int {
		return hashNcacheKey(key.(ncacheKey), tableSize)
	}

	n := &NCache{
		tc: tcache.New(compare, hash, nil, 256),
		st: newStats(interval, depth),
	}
	n.tc.SetInfo(tcache.OptTimeoutMsecs, uint(timeout)*1000)
	return n
}

// SetLimits configures timeout/soft/hard limits.
func (n *NCache) SetLimits(timeoutMsecs, soft, hard uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tc.SetInfo(tcache.OptTimeoutMsecs, timeoutMsecs)
	n.tc.SetInfo(tcache.OptSoftLimit, soft)
	n.tc.SetInfo(tcache.OptHardLimit, hard)
}

// SetEnabled enables or disables the cache.
func (n *NCache) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := uint(0)
	if enabled {
		v = 1
	}
	n.tc.SetInfo(tcache.OptEnable, v)
}

// Insert records that name, within parent, resolves to target.
func (n *NCache) Insert(parent types.ObjectRef, name string, target types.ObjectRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := ncacheKey{Parent: parent, Name: name}
	reclaimed, replaced, wasUpdate := n.tc.Insert(key, ncachePayload{key: key, target: target}, time.Time{})
	if reclaimed > 0 {
		n.st.purge(reclaimed)
	}
	if replaced {
		n.st.replacement()
	}
	if wasUpdate {
		n.st.update()
	}
	n.refreshGauges()
}

// Lookup resolves name within parent. status mirrors tcache.LookupStatus:
// a hit returns the cached reference, an expired entry returns
// StatusExpired with the entry left in place, and StatusMiss on absence.
func (n *NCache) Lookup(parent types.ObjectRef, name string) (types.ObjectRef, tcache.LookupStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := ncacheKey{Parent: parent, Name: name}
	e, status := n.tc.Lookup(key)
	switch status {
	case tcache.StatusOK:
		n.st.hit()
		return n.tc.Payload(e).(ncachePayload).target, status
	case tcache.StatusExpired:
		n.st.miss()
		return types.ObjectRef{}, status
	default:
		n.st.miss()
		return types.ObjectRef{}, status
	}
}

// Invalidate removes a specific (parent, name) mapping immediately,
// without waiting for expiration.
func (n *NCache) Invalidate(parent types.ObjectRef, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := ncacheKey{Parent: parent, Name: name}
	if e, status := n.tc.Lookup(key); status != tcache.StatusMiss {
		n.tc.Delete(e)
		n.st.deletion()
	}
	n.refreshGauges()
}

func (n *NCache) refreshGauges() {
	n.st.setGauges(uint(n.tc.NumEntries()), n.tc.GetInfo(tcache.OptSoftLimit), n.tc.GetInfo(tcache.OptHardLimit), n.tc.GetInfo(tcache.OptEnable) != 0)
}

// Stats returns a snapshot of the rolling counters.
func (n *NCache) Stats() types.CacheStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st.Snapshot()
}
