// Package prooftest signs WOPI requests the way an editing service does, for
// use in tests.
package prooftest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/hashicorp-forge/wopihost/pkg/proof"
)

// NewKey generates a throwaway RSA key.
func NewKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	return key
}

// Sign returns the base64 signature of the proof payload.
func Sign(t testing.TB, key *rsa.PrivateKey, accessToken, url string, ticks int64) string {
	t.Helper()
	digest := sha256.Sum256(proof.ExpectedProof(accessToken, url, ticks))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("error signing proof: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}
