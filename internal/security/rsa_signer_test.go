package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestRSASignerSignVerifyRoundTrip(t *testing.T) {
	signer := NewRSASignerFromKey(generateTestKey(t))

	data := []byte("uid=1001,groups=[100,200],issuer=alpha,timeout=1700000000")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != signer.KeySize() {
		t.Fatalf("expected signature sized to key modulus %d, got %d", signer.KeySize(), len(sig))
	}
	if !signer.Verify(data, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestRSASignerRejectsTamperedData(t *testing.T) {
	signer := NewRSASignerFromKey(generateTestKey(t))

	data := []byte("original data")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if signer.Verify([]byte("tampered data"), sig) {
		t.Fatalf("expected tampered data to fail verification")
	}
}

func TestRSASignerRejectsTamperedSignature(t *testing.T) {
	signer := NewRSASignerFromKey(generateTestKey(t))

	data := []byte("original data")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[0] ^= 0xff
	if signer.Verify(data, sig) {
		t.Fatalf("expected tampered signature to fail verification")
	}
}

func TestLoadRSASignerFromPEMRoundTrip(t *testing.T) {
	key := generateTestKey(t)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	pemBytes := pem.EncodeToMemory(block)

	signer, err := LoadRSASignerFromPEM(pemBytes)
	if err != nil {
		t.Fatalf("LoadRSASignerFromPEM: %v", err)
	}

	data := []byte("credential digest input")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !signer.Verify(data, sig) {
		t.Fatalf("expected round-tripped PEM key to verify its own signature")
	}
}

func TestLoadRSASignerFromPEMRejectsGarbage(t *testing.T) {
	if _, err := LoadRSASignerFromPEM([]byte("not a pem block")); err == nil {
		t.Fatalf("expected garbage PEM input to fail loading")
	}
}
