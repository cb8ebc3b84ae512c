// Package tcache implements the generic, size- and time-bounded
// associative cache substrate every specialized client cache
// (internal/cache's acache/ncache/rcache/capcache) is built on.
//
// Terminology, carried over from the original PINT_tcache (see
// original_source/src/common/misc/tcache.h):
//
//   - DELETE: remove a specific entry at the caller's request.
//   - PURGE: remove an entry because there is not enough room (RECLAIM).
//   - EXPIRED: an entry older than the timeout that is still present.
//   - RECLAIM: purge up to reclaim_percentage of soft_limit expired entries.
//   - REPLACE: evict the single LRU entry to make room at hard_limit.
//
// TCache is not safe for concurrent use — exactly like the C original, the
// caller is responsible for any locking (internal/cache's specializations
// each hold their own mutex).
package tcache

import (
	"time"
)

// CompareFunc reports whether key identifies the object represented by an
// existing entry's payload.
type CompareFunc func(key any, payload any) bool

// HashFunc maps key into a bucket index in [0, tableSize).
type HashFunc func(key any, tableSize int) int

// FreeFunc releases resources owned by payload.
type FreeFunc func(payload any)

const nilIdx = -1

type slot struct {
	used       bool
	payload    any
	expiration time.Time
	hashPrev   int
	hashNext   int
	lruPrev    int
	lruNext    int
}

// TCache is the generic cache. Zero value is not usable; construct with New.
type TCache struct {
	compare CompareFunc
	hash    HashFunc
	free    FreeFunc

	tableSize int
	buckets   []int

	slots   []slot
	freeIdx []int

	lruHead int // most-recently-used
	lruTail int // least-recently-used

	numEntries int

	TimeoutMsecs       uint
	HardLimit          uint
	SoftLimit          uint
	ReclaimPercentage  uint
	Enable             bool
	ExpirationEnabled  bool

	now func() time.Time
}

// Option configures New.
type Option func(*TCache)

// WithClock overrides the time source; tests use this to make expiration
// deterministic.
func WithClock(now func() time.Time) Option {
	return func(t *TCache) { t.now = now }
}

// New initializes a tcache instance with default tunables matching the
// conservative compile-time defaults used throughout the original project:
// a 5 minute timeout, soft limit 5120, hard limit 10240, 25% reclaim.
func New(compare CompareFunc, hash HashFunc, free FreeFunc, tableSize int, opts ...Option) *TCache {
	if tableSize <= 0 {
		tableSize = 256
	}
	t := &TCache{
		compare:           compare,
		hash:              hash,
		free:              free,
		tableSize:         tableSize,
		buckets:           make([]int, tableSize),
		lruHead:           nilIdx,
		lruTail:           nilIdx,
		TimeoutMsecs:      5 * 60 * 1000,
		HardLimit:         10240,
		SoftLimit:         5120,
		ReclaimPercentage: 25,
		Enable:            true,
		ExpirationEnabled: true,
		now:               time.Now,
	}
	for i := range t.buckets {
		t.buckets[i] = nilIdx
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NumEntries returns the exact current entry count.
func (t *TCache) NumEntries() int { return t.numEntries }

func (t *TCache) allocSlot() int {
	if n := len(t.freeIdx); n > 0 {
		idx := t.freeIdx[n-1]
		t.freeIdx = t.freeIdx[:n-1]
		return idx
	}
	t.slots = append(t.slots, slot{})
	return len(t.slots) - 1
}

func (t *TCache) releaseSlot(idx int) {
	t.slots[idx] = slot{}
	t.freeIdx = append(t.freeIdx, idx)
}

// lruUnlink removes idx from the LRU list without touching the hash chain.
func (t *TCache) lruUnlink(idx int) {
	s := &t.slots[idx]
	if s.lruPrev != nilIdx {
		t.slots[s.lruPrev].lruNext = s.lruNext
	} else {
		t.lruHead = s.lruNext
	}
	if s.lruNext != nilIdx {
		t.slots[s.lruNext].lruPrev = s.lruPrev
	} else {
		t.lruTail = s.lruPrev
	}
	s.lruPrev, s.lruNext = nilIdx, nilIdx
}

// lruPushFront inserts idx at the MRU head.
func (t *TCache) lruPushFront(idx int) {
	s := &t.slots[idx]
	s.lruPrev = nilIdx
	s.lruNext = t.lruHead
	if t.lruHead != nilIdx {
		t.slots[t.lruHead].lruPrev = idx
	}
	t.lruHead = idx
	if t.lruTail == nilIdx {
		t.lruTail = idx
	}
}

func (t *TCache) promote(idx int) {
	if t.lruHead == idx {
		return
	}
	t.lruUnlink(idx)
	t.lruPushFront(idx)
}

func (t *TCache) hashUnlink(bucket, idx int) {
	s := &t.slots[idx]
	if s.hashPrev != nilIdx {
		t.slots[s.hashPrev].hashNext = s.hashNext
	} else {
		t.buckets[bucket] = s.hashNext
	}
	if s.hashNext != nilIdx {
		t.slots[s.hashNext].hashPrev = s.hashPrev
	}
	s.hashPrev, s.hashNext = nilIdx, nilIdx
}

func (t *TCache) hashPushFront(bucket, idx int) {
	s := &t.slots[idx]
	s.hashPrev = nilIdx
	s.hashNext = t.buckets[bucket]
	if t.buckets[bucket] != nilIdx {
		t.slots[t.buckets[bucket]].hashPrev = idx
	}
	t.buckets[bucket] = idx
}

// findInBucket walks the hash chain for bucket looking for an entry whose
// payload compare()s equal to key; returns its slot index or nilIdx.
func (t *TCache) findInBucket(bucket int, key any) int {
	for idx := t.buckets[bucket]; idx != nilIdx; idx = t.slots[idx].hashNext {
		if t.compare(key, t.slots[idx].payload) {
			return idx
		}
	}
	return nilIdx
}

func (t *TCache) deleteSlot(bucket, idx int) {
	payload := t.slots[idx].payload
	t.hashUnlink(bucket, idx)
	t.lruUnlink(idx)
	t.releaseSlot(idx)
	t.numEntries--
	if t.free != nil {
		t.free(payload)
	}
}

// Entry is an opaque handle returned from Lookup/Insert identifying a
// specific cache slot.
type Entry struct {
	idx int
}

func (e Entry) valid() bool { return e.idx != nilIdx }

// Payload returns the payload stored at this entry. Callers must not
// retain it past the next mutating tcache call if free() assumes exclusive
// ownership.
func (t *TCache) Payload(e Entry) any {
	if !e.valid() {
		return nil
	}
	return t.slots[e.idx].payload
}

// Insert inserts a new entry or refreshes an existing one with the same
// key. Returns the number of entries reclaimed as part of making room and
// whether a single LRU entry had to be replaced at the hard limit.
func (t *TCache) Insert(key any, payload any, expiration time.Time) (reclaimed int, replaced bool, wasUpdate bool) {
	if !t.Enable {
		if t.free != nil {
			t.free(payload)
		}
		return 0, false, false
	}

	bucket := t.hash(key, t.tableSize)
	if existing := t.findInBucket(bucket, key); existing != nilIdx {
		old := t.slots[existing].payload
		t.slots[existing].payload = payload
		t.slots[existing].expiration = t.expirationFor(expiration)
		t.promote(existing)
		if t.free != nil && old != nil {
			t.free(old)
		}
		return 0, false, true
	}

	if uint(t.numEntries) >= t.SoftLimit {
		reclaimed, _ = t.Reclaim()
	}
	if uint(t.numEntries) >= t.HardLimit && t.lruTail != nilIdx {
		tail := t.lruTail
		tb := t.bucketOfSlot(tail)
		t.deleteSlot(tb, tail)
		replaced = true
	}

	idx := t.allocSlot()
	t.slots[idx] = slot{
		used:       true,
		payload:    payload,
		expiration: t.expirationFor(expiration),
		hashPrev:   nilIdx,
		hashNext:   nilIdx,
		lruPrev:    nilIdx,
		lruNext:    nilIdx,
	}
	t.hashPushFront(bucket, idx)
	t.lruPushFront(idx)
	t.numEntries++
	return reclaimed, replaced, false
}

// bucketOfSlot finds which bucket a live slot index currently chains off
// of by scanning the table. The hash table is small relative to the
// number of entries evicted this way (at most one call per hard-limit
// eviction), so a linear bucket scan is acceptable and avoids storing a
// redundant bucket-index field per slot.
func (t *TCache) bucketOfSlot(idx int) int {
	for b, head := range t.buckets {
		for i := head; i != nilIdx; i = t.slots[i].hashNext {
			if i == idx {
				return b
			}
		}
	}
	return -1
}

func (t *TCache) expirationFor(requested time.Time) time.Time {
	if !requested.IsZero() {
		return requested
	}
	return t.now().Add(time.Duration(t.TimeoutMsecs) * time.Millisecond)
}

// Expiration returns the absolute expiration time of e, for callers (like
// a partial-invalidate operation) that need to rewrite a payload in place
// without implicitly extending its timeout.
func (t *TCache) Expiration(e Entry) time.Time {
	if !e.valid() || !t.slots[e.idx].used {
		return time.Time{}
	}
	return t.slots[e.idx].expiration
}

// LookupStatus distinguishes a fresh hit from an expired-but-present entry.
type LookupStatus int

const (
	StatusOK LookupStatus = iota
	StatusExpired
	StatusMiss
)

// Lookup finds the entry matching key. A hit whose expiration has passed
// is still returned, with StatusExpired, and is not promoted on the LRU.
func (t *TCache) Lookup(key any) (Entry, LookupStatus) {
	if !t.Enable {
		return Entry{nilIdx}, StatusMiss
	}
	bucket := t.hash(key, t.tableSize)
	idx := t.findInBucket(bucket, key)
	if idx == nilIdx {
		return Entry{nilIdx}, StatusMiss
	}
	if t.ExpirationEnabled && t.now().After(t.slots[idx].expiration) {
		return Entry{idx}, StatusExpired
	}
	t.promote(idx)
	return Entry{idx}, StatusOK
}

// Delete removes e from the cache and frees its payload.
func (t *TCache) Delete(e Entry) {
	if !e.valid() || !t.slots[e.idx].used {
		return
	}
	bucket := t.bucketOfSlot(e.idx)
	if bucket < 0 {
		return
	}
	t.deleteSlot(bucket, e.idx)
}

// Refresh sets e's expiration to now+timeout and promotes it to MRU.
func (t *TCache) Refresh(e Entry) {
	if !e.valid() || !t.slots[e.idx].used {
		return
	}
	t.slots[e.idx].expiration = t.now().Add(time.Duration(t.TimeoutMsecs) * time.Millisecond)
	t.promote(e.idx)
}

// Reclaim walks the LRU tail toward the head deleting expired entries,
// stopping at ceil(reclaim_percentage/100 * soft_limit) deletions or when
// the tail catches up with live (non-expired) entries.
func (t *TCache) Reclaim() (reclaimed int, err error) {
	if !t.ExpirationEnabled {
		return 0, nil
	}
	limit := (int(t.ReclaimPercentage)*int(t.SoftLimit) + 99) / 100
	if limit <= 0 {
		return 0, nil
	}
	now := t.now()
	idx := t.lruTail
	for idx != nilIdx && reclaimed < limit {
		prev := t.slots[idx].lruPrev
		if now.After(t.slots[idx].expiration) {
			bucket := t.bucketOfSlot(idx)
			t.deleteSlot(bucket, idx)
			reclaimed++
			idx = prev
			continue
		}
		// Not expired: tail has caught up with live entries, since LRU
		// order does not correlate with expiration order in general, but
		// per spec we scan strictly tail->head and stop counting once we
		// reach the first unexpired entry scanning from the tail.
		break
	}
	return reclaimed, nil
}

// Option keys for Get/SetInfo, matching PINT_tcache_options.
type InfoOption int

const (
	OptTimeoutMsecs InfoOption = iota
	OptNumEntries
	OptHardLimit
	OptSoftLimit
	OptEnable
	OptReclaimPercentage
	OptEnableExpiration
)

// GetInfo reads a tunable.
func (t *TCache) GetInfo(opt InfoOption) uint {
	switch opt {
	case OptTimeoutMsecs:
		return t.TimeoutMsecs
	case OptNumEntries:
		return uint(t.numEntries)
	case OptHardLimit:
		return t.HardLimit
	case OptSoftLimit:
		return t.SoftLimit
	case OptEnable:
		return boolToUint(t.Enable)
	case OptReclaimPercentage:
		return t.ReclaimPercentage
	case OptEnableExpiration:
		return boolToUint(t.ExpirationEnabled)
	}
	return 0
}

// SetInfo writes a tunable. OptNumEntries is read-only and ignored.
func (t *TCache) SetInfo(opt InfoOption, value uint) {
	switch opt {
	case OptTimeoutMsecs:
		t.TimeoutMsecs = value
	case OptHardLimit:
		t.HardLimit = value
	case OptSoftLimit:
		t.SoftLimit = value
	case OptEnable:
		t.Enable = value != 0
	case OptReclaimPercentage:
		t.ReclaimPercentage = value
	case OptEnableExpiration:
		t.ExpirationEnabled = value != 0
	}
}

func boolToUint(b bool) uint {
	if b {
		return 1
	}
	return 0
}

// CountLRU returns the number of live entries reachable by walking the
// LRU list; used by tests to check the universal invariant that
// num_entries equals the LRU list length equals the sum of bucket
// lengths.
func (t *TCache) CountLRU() int {
	n := 0
	for idx := t.lruHead; idx != nilIdx; idx = t.slots[idx].lruNext {
		n++
	}
	return n
}

// CountBuckets returns the total number of entries reachable across all
// hash buckets.
func (t *TCache) CountBuckets() int {
	n := 0
	for _, head := range t.buckets {
		for idx := head; idx != nilIdx; idx = t.slots[idx].hashNext {
			n++
		}
	}
	return n
}
