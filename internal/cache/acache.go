package cache

import (
	"sync"
	"time"

	"github.com/pvfs2/client/internal/tcache"
	"github.com/pvfs2/client/pkg/types"
)

type staticPayload struct {
	ref     types.ObjectRef
	objType types.ObjectType
	dist    types.Distribution
	dfiles  []types.Handle
}

type dynamicPayload struct {
	ref       types.ObjectRef
	validMask types.AttrMask // which dynamic sub-fields are currently valid
	size      int64
	atime     time.Time
	mtime     time.Time
	ctime     time.Time
}

// ACache caches object attributes split into a static half (object type,
// distribution, datafile handles — rarely changes) and a dynamic half
// (size and timestamps — changes on every write), per spec.md §4.2.
type ACache struct {
	mu      sync.Mutex
	static  *tcache.TCache
	dynamic *tcache.TCache
	stats   *stats
}

// NewACache constructs an attribute cache. interval/depth configure the
// perf-counter rollover window.
func NewACache(interval time.Duration, depth int) *ACache {
	compareStatic := func(key any, payload any) bool {
		return payload.(staticPayload).ref == key.(types.ObjectRef)
	}
	hashStatic := func(key any, tableSize int) int {
		return hashRef(key.(types.ObjectRef), tableSize)
	}
	compareDynamic := func(key any, payload any) bool {
		return payload.(dynamicPayload).ref == key.(types.ObjectRef)
	}
	hashDynamic := hashStatic

	a := &ACache{
		static:  tcache.New(compareStatic, hashStatic, nil, 256),
		dynamic: tcache.New(compareDynamic, hashDynamic, nil, 256),
		stats:   newStats(interval, depth),
	}
	return a
}

// SetLimits configures both halves' soft/hard limits and timeout.
func (a *ACache) SetLimits(timeoutMsecs, soft, hard uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range []*tcache.TCache{a.static, a.dynamic} {
		t.SetInfo(tcache.OptTimeoutMsecs, timeoutMsecs)
		t.SetInfo(tcache.OptSoftLimit, soft)
		t.SetInfo(tcache.OptHardLimit, hard)
	}
}

// SetEnabled enables or disables both halves.
func (a *ACache) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := uint(0)
	if enabled {
		v = 1
	}
	a.static.SetInfo(tcache.OptEnable, v)
	a.dynamic.SetInfo(tcache.OptEnable, v)
}

// Update writes the attributes named by attr.Mask into the appropriate
// half(s). Static and dynamic bits may be updated independently; a
// caller that only just learned an object's size passes a mask with only
// AttrSize set, and only the dynamic half is touched.
func (a *ACache) Update(ref types.ObjectRef, attr types.ObjectAttr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if attr.Mask&types.AttrStaticMask != 0 {
		payload := staticPayload{ref: ref, objType: attr.ObjType, dist: attr.Dist, dfiles: append([]types.Handle(nil), attr.DFiles...)}
		reclaimed, replaced, wasUpdate := a.static.Insert(ref, payload, time.Time{})
		a.afterInsert(reclaimed, replaced, wasUpdate)
	}
	if attr.Mask&types.AttrDynamicMask != 0 {
		payload := dynamicPayload{
			ref:       ref,
			validMask: attr.Mask & types.AttrDynamicMask,
			size:      attr.ByteSize,
			atime:     attr.ATime,
			mtime:     attr.MTime,
			ctime:     attr.CTime,
		}
		reclaimed, replaced, wasUpdate := a.dynamic.Insert(ref, payload, time.Time{})
		a.afterInsert(reclaimed, replaced, wasUpdate)
	}
	a.refreshGauges()
}

func (a *ACache) afterInsert(reclaimed int, replaced, wasUpdate bool) {
	if reclaimed > 0 {
		a.stats.purge(reclaimed)
	}
	if replaced {
		a.stats.replacement()
	}
	if wasUpdate {
		a.stats.update()
	}
}

func (a *ACache) refreshGauges() {
	enabled := a.static.GetInfo(tcache.OptEnable) != 0
	num := a.static.NumEntries()
	if d := a.dynamic.NumEntries(); d > num {
		num = d
	}
	a.stats.setGauges(uint(num), a.static.GetInfo(tcache.OptSoftLimit), a.static.GetInfo(tcache.OptHardLimit), enabled)
}

// GetCachedEntry returns whatever subset of wantMask is currently fresh.
// ok is true if any requested field was fresh; the caller must consult
// freshMask rather than assume the whole attribute is populated.
func (a *ACache) GetCachedEntry(ref types.ObjectRef, wantMask types.AttrMask) (attr types.ObjectAttr, freshMask types.AttrMask, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if wantMask&types.AttrStaticMask != 0 {
		e, status := a.static.Lookup(ref)
		if status == tcache.StatusOK {
			sp := a.static.Payload(e).(staticPayload)
			attr.ObjType = sp.objType
			attr.Dist = sp.dist
			attr.DFiles = sp.dfiles
			freshMask |= types.AttrStaticMask
			a.stats.hit()
		} else {
			a.stats.miss()
		}
	}
	if wantMask&types.AttrDynamicMask != 0 {
		e, status := a.dynamic.Lookup(ref)
		if status == tcache.StatusOK {
			dp := a.dynamic.Payload(e).(dynamicPayload)
			have := dp.validMask & wantMask
			if have&types.AttrSize != 0 {
				attr.ByteSize = dp.size
			}
			if have&types.AttrATime != 0 {
				attr.ATime = dp.atime
			}
			if have&types.AttrMTime != 0 {
				attr.MTime = dp.mtime
			}
			if have&types.AttrCTime != 0 {
				attr.CTime = dp.ctime
			}
			freshMask |= have
			if have != 0 {
				a.stats.hit()
			} else {
				a.stats.miss()
			}
		} else {
			a.stats.miss()
		}
	}
	attr.Mask = freshMask
	return attr, freshMask, freshMask != 0
}

// InvalidateSize clears only the size bit of ref's dynamic entry, leaving
// the timestamps and the entry's expiration untouched.
func (a *ACache) InvalidateSize(ref types.ObjectRef) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, status := a.dynamic.Lookup(ref)
	if status == tcache.StatusMiss {
		return
	}
	dp := a.dynamic.Payload(e).(dynamicPayload)
	dp.validMask &^= types.AttrSize
	expiration := a.dynamic.Expiration(e)
	a.dynamic.Insert(ref, dp, expiration)
}

// Invalidate removes ref from both halves unconditionally, as happens
// when a higher-level getattr for the object fails outright.
func (a *ACache) Invalidate(ref types.ObjectRef) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, status := a.static.Lookup(ref); status != tcache.StatusMiss {
		a.static.Delete(e)
		a.stats.deletion()
	}
	if e, status := a.dynamic.Lookup(ref); status != tcache.StatusMiss {
		a.dynamic.Delete(e)
		a.stats.deletion()
	}
	a.refreshGauges()
}

// Stats returns a snapshot of the rolling counters.
func (a *ACache) Stats() types.CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.Snapshot()
}
