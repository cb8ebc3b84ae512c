package device

import (
	"sync"

	"github.com/pvfs2/client/pkg/errors"
)

// Region is one of the two shared memory regions mapped at dispatcher
// startup (spec.md §4.7: "two shared memory regions for bulk I/O and for
// readdir trailers"). Unlike the teacher's size-bucketed BytePool
// (internal/buffer/pool.go), upcalls name a slot by a fixed numeric index
// rather than by size, so Region is a single arena of count fixed-size
// slots with a free list instead of a map of sync.Pools.
type Region struct {
	mu       sync.Mutex
	slotSize int
	arena    []byte
	free     []int // indices currently available
	inUse    map[int]struct{}
}

// NewRegion allocates count slots of size bytes each, all initially free.
func NewRegion(count, size int) (*Region, error) {
	if count <= 0 || size <= 0 {
		return nil, errors.New("device", errors.CodeRegionMapFailed, "region count and size must be positive").
			WithOperation("NewRegion")
	}
	r := &Region{
		slotSize: size,
		arena:    make([]byte, count*size),
		free:     make([]int, count),
		inUse:    make(map[int]struct{}, count),
	}
	for i := 0; i < count; i++ {
		r.free[i] = i
	}
	return r, nil
}

// SlotSize returns the fixed size of every slot in the region.
func (r *Region) SlotSize() int { return r.slotSize }

// Acquire reserves a free slot and returns its index plus the byte slice
// backing it. The slice aliases the region's arena directly, matching the
// original's zero-copy shared-memory semantics: the kernel and userspace
// both see writes to the same bytes.
func (r *Region) Acquire() (int, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.free) == 0 {
		return 0, nil, errors.New("device", errors.CodeRegionMapFailed, "no free region slots").
			WithOperation("Acquire")
	}
	idx := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.inUse[idx] = struct{}{}
	start := idx * r.slotSize
	return idx, r.arena[start : start+r.slotSize], nil
}

// Slot returns the byte slice for an already-acquired index, for the iox
// chunking path where every chunk shares a single region buffer (spec.md
// §4.7) rather than each chunk acquiring its own slot.
func (r *Region) Slot(idx int) []byte {
	start := idx * r.slotSize
	return r.arena[start : start+r.slotSize]
}

// Release returns idx to the free list. Releasing an index that was not
// acquired (or was already released) is a no-op: the dispatcher's repost
// path releases unconditionally and should not have to track state twice.
func (r *Region) Release(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inUse[idx]; !ok {
		return
	}
	delete(r.inUse, idx)
	r.free = append(r.free, idx)
}

// InUse reports how many slots are currently acquired, surfaced on the
// /status endpoint alongside worker and cache counts.
func (r *Region) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inUse)
}

// Regions bundles the two named regions the dispatcher maps at startup.
type Regions struct {
	IO      *Region
	Readdir *Region
}

// NewRegions builds both regions from the device config tunables
// (internal/config.DeviceConfig's DescCount/DescSize), one region per
// name so bulk I/O buffers never compete with readdir trailer buffers
// for the same slots.
func NewRegions(descCount, descSize int) (*Regions, error) {
	io, err := NewRegion(descCount, descSize)
	if err != nil {
		return nil, err
	}
	readdir, err := NewRegion(descCount, descSize)
	if err != nil {
		return nil, err
	}
	return &Regions{IO: io, Readdir: readdir}, nil
}
