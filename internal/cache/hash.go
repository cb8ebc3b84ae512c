package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/pvfs2/client/pkg/types"
)

// hashRef feeds an object reference's handle and fs_id through xxhash and
// folds the result into a bucket index. Used by acache, for which
// spec.md calls out no specific hash algorithm.
func hashRef(ref types.ObjectRef, tableSize int) int {
	var buf [20]byte
	copy(buf[:16], ref.Handle[:])
	binary.LittleEndian.PutUint32(buf[16:], ref.FSID)
	sum := xxhash.Sum64(buf[:])
	return int(sum % uint64(tableSize))
}

// ncacheKey identifies a directory entry lookup: a parent object plus the
// entry name within it.
type ncacheKey struct {
	Parent types.ObjectRef
	Name   string
}

// hashNcacheKey replaces the original's weak sum-of-bytes hash with a real
// string hash per spec.md §4.2 Open Question (c): observable semantics
// (equal keys land in the same bucket) are unchanged, only collision
// quality improves.
func hashNcacheKey(key ncacheKey, tableSize int) int {
	var buf [20]byte
	copy(buf[:16], key.Parent.Handle[:])
	binary.LittleEndian.PutUint32(buf[16:], key.Parent.FSID)
	h := xxhash.New()
	h.Write(buf[:])
	h.Write([]byte(key.Name))
	return int(h.Sum64() % uint64(tableSize))
}

// capcacheKey identifies one cached capability: the specific handle it
// was checked against, the filesystem, and the requesting user.
type capcacheKey struct {
	Handle types.Handle
	FSID   uint32
	UID    uint32
}

func hashCapcacheKey(key capcacheKey, tableSize int) int {
	var buf [24]byte
	copy(buf[:16], key.Handle[:])
	binary.LittleEndian.PutUint32(buf[16:20], key.FSID)
	binary.LittleEndian.PutUint32(buf[20:24], key.UID)
	return int(xxhash.Sum64(buf[:]) % uint64(tableSize))
}

// rcacheKey identifies one readdir position: the directory handle plus
// the iteration token returned by a previous readdir call.
type rcacheKey struct {
	Ref   types.ObjectRef
	Token int64
}

// hashRcacheKey is a three-word Bob-Jenkins mix of (handle_high,
// handle_low, token) masked to a power-of-two table, per spec.md §4.2.
func hashRcacheKey(key rcacheKey, tableSize int) int {
	a := binary.LittleEndian.Uint32(key.Ref.Handle[0:4])
	b := binary.LittleEndian.Uint32(key.Ref.Handle[4:8])
	c := uint32(key.Token) ^ uint32(uint64(key.Token)>>32)
	a, b, c = jenkinsMix(a, b, c)
	mask := uint32(tableSize - 1)
	return int(c & mask)
}

// jenkinsMix is Bob Jenkins' classic 3-word integer mix function.
func jenkinsMix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= b
	a -= c
	a ^= c >> 13
	b -= c
	b -= a
	b ^= a << 8
	c -= a
	c -= b
	c ^= b >> 13
	a -= b
	a -= c
	a ^= c >> 12
	b -= c
	b -= a
	b ^= a << 16
	c -= a
	c -= b
	c ^= b >> 5
	a -= b
	a -= c
	a ^= c >> 3
	b -= c
	b -= a
	b ^= a << 10
	c -= a
	c -= b
	c ^= b >> 15
	return a, b, c
}
