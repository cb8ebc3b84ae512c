package cache

import (
	"sync"
	"time"

	"github.com/pvfs2/client/internal/tcache"
	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/types"
)

const capcacheSafetyBuffer = 5 * time.Second

type capcachePayload struct {
	key        capcacheKey
	capability types.Capability
}

// CapCache caches capabilities keyed by (handle, fs_id, uid), per
// spec.md §4.2. Per Open Question (a) this implements the
// client-capcache.c variant: entry expiration is computed explicitly as
// min(capability.Timeout, now+cacheTimeout) minus a 5 second safety
// buffer, rather than delegating to tcache's own timeout bank — see
// DESIGN.md for the rejected tcache-backed alternative.
type CapCache struct {
	mu           sync.Mutex
	tc           *tcache.TCache
	st           *stats
	cacheTimeout time.Duration
	now          func() time.Time
}

// NewCapCache constructs a capability cache with the given cache-side
// timeout ceiling (independent of any individual capability's own
// timeout).
func NewCapCache(cacheTimeout time.Duration, interval time.Duration, depth int) *CapCache {
	compare := func(key any, payload any) bool {
		return payload.(capcachePayload).key == key.(capcacheKey)
	}
	hash := func(key any, tableSize int) int {
		return hashCapcacheKey(key.(capcacheKey), tableSize)
	}

	return &CapCache{
		tc:           tcache.New(compare, hash, nil, 256),
		st:           newStats(interval, depth),
		cacheTimeout: cacheTimeout,
		now:          time.Now,
	}
}

// SetLimits configures soft/hard limits.
func (c *CapCache) SetLimits(soft, hard uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tc.SetInfo(tcache.OptSoftLimit, soft)
	c.tc.SetInfo(tcache.OptHardLimit, hard)
}

// SetEnabled enables or disables the cache.
func (c *CapCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := uint(0)
	if enabled {
		v = 1
	}
	c.tc.SetInfo(tcache.OptEnable, v)
}

// dupCapability performs the equivalent of PINT_dup_capability: a deep
// copy of the handle array and signature bytes, so the cached entry never
// aliases caller-owned memory.
func dupCapability(cap types.Capability) types.Capability {
	return cap.Clone()
}

// Update inserts or refreshes the cached capability for (handle, fsid,
// uid). An already-expired capability (now > capability.Timeout) is
// refused.
func (c *CapCache) Update(handle types.Handle, fsid, uid uint32, capability types.Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.After(capability.Timeout) {
		return errors.New("capcache", errors.CodeCapabilityStale, "capability already expired").
			WithOperation("Update")
	}

	entryExpiration := capability.Timeout
	if ceiling := now.Add(c.cacheTimeout); ceiling.Before(entryExpiration) {
		entryExpiration = ceiling
	}
	entryExpiration = entryExpiration.Add(-capcacheSafetyBuffer)

	key := capcacheKey{Handle: handle, FSID: fsid, UID: uid}
	payload := capcachePayload{key: key, capability: dupCapability(capability)}
	reclaimed, replaced, wasUpdate := c.tc.Insert(key, payload, entryExpiration)
	if reclaimed > 0 {
		c.st.purge(reclaimed)
	}
	if replaced {
		c.st.replacement()
	}
	if wasUpdate {
		c.st.update()
	}
	c.refreshGauges()
	return nil
}

// Lookup returns the cached capability for (handle, fsid, uid). A
// capability is only ever returned if now <= capability.Timeout, matching
// the invariant in spec.md §3 that callers must refuse a capability whose
// wall-clock timeout has already passed even if the cache entry itself
// has not yet been reclaimed.
func (c *CapCache) Lookup(handle types.Handle, fsid, uid uint32) (types.Capability, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := capcacheKey{Handle: handle, FSID: fsid, UID: uid}
	e, status := c.tc.Lookup(key)
	if status != tcache.StatusOK {
		c.st.miss()
		return types.Capability{}, false
	}
	payload := c.tc.Payload(e).(capcachePayload)
	if c.now().After(payload.capability.Timeout) {
		c.st.miss()
		return types.Capability{}, false
	}
	c.st.hit()
	return dupCapability(payload.capability), true
}

// Invalidate removes the cached capability for (handle, fsid, uid).
func (c *CapCache) Invalidate(handle types.Handle, fsid, uid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := capcacheKey{Handle: handle, FSID: fsid, UID: uid}
	if e, status := c.tc.Lookup(key); status != tcache.StatusMiss {
		c.tc.Delete(e)
		c.st.deletion()
	}
	c.refreshGauges()
}

func (c *CapCache) refreshGauges() {
	c.st.setGauges(uint(c.tc.NumEntries()), c.tc.GetInfo(tcache.OptSoftLimit), c.tc.GetInfo(tcache.OptHardLimit), c.tc.GetInfo(tcache.OptEnable) != 0)
}

// Stats returns a snapshot of the rolling counters.
func (c *CapCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Snapshot()
}
