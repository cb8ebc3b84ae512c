package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"

	"github.com/pvfs2/client/pkg/errors"
)

// RSASigner signs with PKCS#1 v1.5 over a SHA-1 digest, matching the
// original project's OpenSSL-backed signer (spec.md §9 "Openssl
// dependency"). It never caches key material across calls beyond the
// lifetime of the loaded *rsa.PrivateKey itself — callers that want to
// avoid repeated disk reads are expected to hold one RSASigner per
// process, not to reload the key per signature.
type RSASigner struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// LoadRSASignerFromPEM parses a PEM-encoded PKCS#1 or PKCS#8 RSA private
// key and returns a signer that both signs and verifies with it.
func LoadRSASignerFromPEM(pemBytes []byte) (*RSASigner, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("security", errors.CodeKeyLoadFailed, "no PEM block found in key data").
			WithOperation("LoadRSASignerFromPEM")
	}

	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap("security", errors.CodeKeyLoadFailed, err).
			WithOperation("LoadRSASignerFromPEM")
	}
	return &RSASigner{private: key, public: &key.PublicKey}, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("security", errors.CodeKeyLoadFailed, "PKCS8 key is not an RSA key")
	}
	return key, nil
}

// NewRSASignerFromKey wraps an already-loaded private key, for callers
// (tests, a key-management sidecar) that parse the PEM themselves.
func NewRSASignerFromKey(key *rsa.PrivateKey) *RSASigner {
	return &RSASigner{private: key, public: &key.PublicKey}
}

// KeySize reports the signature size in bytes, equal to the key modulus
// size per spec.md §4.6 step 1 ("allocate a signature buffer sized to
// the key modulus").
func (s *RSASigner) KeySize() int { return s.private.Size() }

// Sign digests data with SHA-1 and signs the digest with PKCS#1 v1.5.
func (s *RSASigner) Sign(data []byte) ([]byte, error) {
	sum := digest(sha1.New(), data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.private, crypto.SHA1, sum)
	if err != nil {
		return nil, errors.Wrap("security", errors.CodeSigningFailed, err).
			WithOperation("Sign")
	}
	return sig, nil
}

// Verify reports whether sig is a valid PKCS#1 v1.5 signature of data's
// SHA-1 digest under this signer's public key.
func (s *RSASigner) Verify(data, sig []byte) bool {
	sum := digest(sha1.New(), data)
	return rsa.VerifyPKCS1v15(s.public, crypto.SHA1, sum, sig) == nil
}
