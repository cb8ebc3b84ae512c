package dispatch

import "github.com/pvfs2/client/pkg/pvfserr"

// NullBackend rejects every request with ENOSYS. The RPC encoding and
// transport that would actually reach a PVFS2 server are explicitly out
// of scope (spec.md §1); NullBackend is what cmd/pvfs2-client-core wires
// in today so the dispatcher runs end to end against a real device while
// that transport remains unimplemented.
type NullBackend struct{}

func (NullBackend) Service(op Opcode, req Request) (Response, error) {
	return Response{}, pvfserr.FromClientErrno(pvfserr.ENOSYS)
}

var _ Backend = NullBackend{}
