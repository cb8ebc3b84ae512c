/*
Package cache implements the four specialized client caches layered on
internal/tcache: acache (object attributes), ncache (name-to-reference
lookups), rcache (readdir iteration positions), and capcache (issued
capabilities). See spec.md §4.2 for the per-cache key/compare/hash and
update semantics each one specializes.

Each cache owns its own internal/tcache.TCache instance (acache owns two,
one per attribute half) plus a internal/perfcounter.History tracking the
HITS/MISSES/UPDATES/PURGES/REPLACEMENTS/DELETIONS counter family common to
all four, mirrored out as types.CacheStats.
*/
package cache
