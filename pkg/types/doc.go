/*
Package types defines the data model shared across the PVFS2/OrangeFS
client core: object references and attributes, capabilities and
credentials, and the small cross-cutting interfaces (MetricsCollector,
HealthChecker) that let the cache, worker, and dispatcher packages depend
on narrow contracts instead of concrete implementations.

# Layering

	┌────────────────────────────┐
	│   internal/dispatch         │  upcall/downcall wire handling
	└──────────────┬──────────────┘
	               │
	┌──────────────┴──────────────┐
	│ internal/cache, internal/worker, internal/security │
	└──────────────┬──────────────┘
	               │
	┌──────────────┴──────────────┐
	│          pkg/types           │  ObjectRef, ObjectAttr, Capability, Credential
	└──────────────────────────────┘

None of the types here know how to encode themselves onto the wire; that
is internal/dispatch's job, since the wire format is a compatibility
contract independent of the in-memory representation.
*/
package types
