// Package security implements the credential signer from spec.md §4.6:
// building and digitally signing a types.Credential from the fields a
// caller presents, and verifying a signature for tests and round-trip
// checks. The signing/digest primitives sit behind the Signer interface
// so the manager is exercisable without a key loaded from disk.
package security

import (
	"encoding/binary"
	"hash"
	"time"

	"github.com/pvfs2/client/pkg/pvfserr"
	"github.com/pvfs2/client/pkg/types"
)

func unixToTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// Signer is the swappable digest+sign backend. Sign returns a signature
// sized to the backend's own key modulus; Verify reports whether sig is
// a valid signature of data under the backend's key pair.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte) bool
}

// Manager builds and signs Credential values. It never caches the
// backend's private key materials itself — that is the Signer's concern
// — and holds no state beyond the issuer alias and backend reference, so
// a Manager is safe to share across goroutines.
type Manager struct {
	signer Signer
	issuer string
}

// NewManager constructs a credential signer that attributes every
// credential it signs to issuer and signs with signer.
func NewManager(signer Signer, issuer string) *Manager {
	return &Manager{signer: signer, issuer: issuer}
}

// SignCredential builds a Credential for (uid, groups, timeout), feeding
// the fields into the backend's digest in the declared order — uid,
// num_groups, group_array, issuer, timeout — per spec.md §3/§4.6. Any
// backend failure is reported as pvfserr.Security.
func (m *Manager) SignCredential(uid uint32, groups []uint32, timeoutUnix int64) (types.Credential, error) {
	digestInput := encodeCredentialFields(uid, groups, m.issuer, timeoutUnix)
	sig, err := m.signer.Sign(digestInput)
	if err != nil {
		return types.Credential{}, pvfserr.Security
	}
	return types.Credential{
		UID:       uid,
		Groups:    append([]uint32(nil), groups...),
		Issuer:    m.issuer,
		Timeout:   unixToTime(timeoutUnix),
		Signature: sig,
	}, nil
}

// VerifyCredential reports whether cred's signature is valid for its own
// fields under the backend's key pair.
func (m *Manager) VerifyCredential(cred types.Credential) bool {
	digestInput := encodeCredentialFields(cred.UID, cred.Groups, cred.Issuer, cred.Timeout.Unix())
	return m.signer.Verify(digestInput, cred.Signature)
}

// encodeCredentialFields serializes the fields a credential's signature
// covers, in the exact order spec.md §3 declares:
// (uid, num_groups, group_array, issuer, timeout).
func encodeCredentialFields(uid uint32, groups []uint32, issuer string, timeoutUnix int64) []byte {
	buf := make([]byte, 0, 4+4+4*len(groups)+len(issuer)+8)
	buf = appendUint32(buf, uid)
	buf = appendUint32(buf, uint32(len(groups)))
	for _, g := range groups {
		buf = appendUint32(buf, g)
	}
	buf = append(buf, issuer...)
	buf = appendUint64(buf, uint64(timeoutUnix))
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// digest feeds data through h and returns the finalized sum, matching
// step 2 of spec.md §4.6 ("feed the fields into a ... digest"). Shared
// with RSASigner, which reuses the same hashing step ahead of signing.
func digest(h hash.Hash, data []byte) []byte {
	h.Reset()
	h.Write(data)
	return h.Sum(nil)
}
