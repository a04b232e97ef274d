package fixtures

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strconv"
	"sync"
	"testing"
)

// keyCache holds generated keys by name. 4096-bit generation takes about
// a second, so each distinct key is generated once per test binary.
var keyCache = struct {
	sync.Mutex
	keys map[string]*rsa.PrivateKey
}{keys: make(map[string]*rsa.PrivateKey)}

// RSAKey returns a cached RSA key of the given size. Distinct names yield
// distinct keys, which lets tests build a "signed by someone else" token.
func RSAKey(t testing.TB, name string, bits int) *rsa.PrivateKey {
	t.Helper()
	keyCache.Lock()
	defer keyCache.Unlock()

	cacheKey := name + "/" + strconv.Itoa(bits)
	if k, ok := keyCache.keys[cacheKey]; ok {
		return k
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("fixtures: generate %d-bit RSA key: %v", bits, err)
	}
	keyCache.keys[cacheKey] = k
	return k
}

// SigningKey returns the cached 4096-bit key for name.
func SigningKey(t testing.TB, name string) *rsa.PrivateKey {
	t.Helper()
	return RSAKey(t, name, 4096)
}

// PKCS8PEM encodes key as a "PRIVATE KEY" PEM block.
func PKCS8PEM(t testing.TB, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("fixtures: marshal PKCS#8: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// PKCS1PEM encodes key as a legacy "RSA PRIVATE KEY" PEM block.
func PKCS1PEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
