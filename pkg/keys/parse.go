package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ParsePrivateKeyPEM decodes the first PEM block in data and parses it
// with [ParsePrivateKeyDER]. The block type is not trusted: "PRIVATE KEY"
// and "RSA PRIVATE KEY" are handled the same way.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("keys: no PEM block found")
	}
	return ParsePrivateKeyDER(block.Bytes)
}

// ParsePrivateKeyDER parses PKCS#8 first and falls back to PKCS#1.
func ParsePrivateKeyDER(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keys: PKCS#8 key is %T, want RSA", k)
		}
		return rsaKey, nil
	}
	k, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("keys: key is neither PKCS#8 nor PKCS#1: %w", err)
	}
	return k, nil
}
