package dispatch

// Backend performs the actual request/response round trip against the
// PVFS2 servers. The on-wire RPC encoding and the network transport are
// explicitly out of scope (spec.md §1's "deliberately out of scope"
// list); Backend is the narrow seam the dispatcher calls through so it
// can be driven end to end in tests against a fake, with the real
// implementation left to whatever server-protocol package eventually
// sits behind this interface.
type Backend interface {
	Service(op Opcode, req Request) (Response, error)
}
