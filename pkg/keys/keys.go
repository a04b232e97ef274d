// Package keys loads the RSA signing key that backs token issuance.
//
// Sources are consulted in a fixed order and the first configured one
// wins:
//
//  1. a Java KeyStore (path, password and alias must all be set)
//  2. PEM content in an environment variable ([Config.PEMEnv])
//  3. a PEM file, named by an environment variable ([Config.PathEnv]) or
//     by [Config.PEMPath]
//
// Every source goes through the same PKCS#8-then-PKCS#1 parser, and the
// resulting modulus must be at least [Config.MinBits] long. Failures are
// returned as [sserr.CodeInternalConfiguration] errors; the loader never
// falls back silently to running without a key.
package keys

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"

	"github.com/StricklySoft/stricklysoft-iam/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// DefaultMinBits is the smallest accepted RSA modulus.
const DefaultMinBits = 4096

// ErrNoKeyMaterial is the cause of the error returned by [Loader.Load]
// when no source is configured at all.
var ErrNoKeyMaterial = errors.New("keys: no signing key source configured")

// Source names which input produced the key.
type Source string

const (
	SourceKeystore Source = "keystore"
	SourcePEMEnv   Source = "pem-env"
	SourcePEMFile  Source = "pem-file"
)

// Config selects and describes the key sources.
type Config struct {
	KeystorePath     string        `env:"KEYSTORE_PATH" yaml:"keystore_path" json:"keystore_path"`
	KeystorePassword config.Secret `env:"KEYSTORE_PASSWORD" yaml:"keystore_password" json:"-"`
	KeystoreAlias    string        `env:"KEYSTORE_ALIAS" yaml:"keystore_alias" json:"keystore_alias"`

	// PEMEnv and PathEnv name the environment variables holding PEM
	// content and a PEM path. They are read at Load time.
	PEMEnv  string `env:"PEM_ENV" envDefault:"IAM_SIGNING_KEY_PEM" yaml:"pem_env" json:"pem_env"`
	PathEnv string `env:"PATH_ENV" envDefault:"IAM_SIGNING_KEY_PATH" yaml:"path_env" json:"path_env"`
	PEMPath string `env:"PEM_PATH" yaml:"pem_path" json:"pem_path"`

	// KeyID overrides the RFC 7638 thumbprint used as "kid".
	KeyID   string `env:"KEY_ID" yaml:"key_id" json:"key_id"`
	MinBits int    `env:"MIN_BITS" envDefault:"4096" yaml:"min_bits" json:"min_bits"`
}

// Material is a loaded key pair. Private is never serialised.
type Material struct {
	Private *rsa.PrivateKey `json:"-"`
	Public  *rsa.PublicKey  `json:"-"`
	KeyID   string          `json:"kid"`
	Source  Source          `json:"source"`
}

// Bits returns the modulus length.
func (m *Material) Bits() int {
	return m.Public.N.BitLen()
}

// Loader resolves a [Config] into [Material].
type Loader struct {
	cfg       Config
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	logger    *slog.Logger
}

// Option configures a [Loader].
type Option func(*Loader)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *Loader) { l.lookupEnv = fn }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader returns a Loader for cfg.
func NewLoader(cfg Config, opts ...Option) *Loader {
	if cfg.MinBits <= 0 {
		cfg.MinBits = DefaultMinBits
	}
	l := &Loader{
		cfg:       cfg,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the first configured source.
func (l *Loader) Load(ctx context.Context) (*Material, error) {
	key, source, err := l.loadPrivateKey()
	if err != nil {
		return nil, err
	}
	if bits := key.N.BitLen(); bits < l.cfg.MinBits {
		return nil, sserr.Configurationf("keys: RSA key is %d bits, at least %d required", bits, l.cfg.MinBits).
			WithDetail("source", string(source))
	}
	key.Precompute()

	kid := l.cfg.KeyID
	if kid == "" {
		kid = Thumbprint(&key.PublicKey)
	}
	l.logger.InfoContext(ctx, "signing key loaded",
		slog.String("source", string(source)),
		slog.String("kid", kid),
		slog.Int("bits", key.N.BitLen()),
	)
	return &Material{Private: key, Public: &key.PublicKey, KeyID: kid, Source: source}, nil
}

func (l *Loader) loadPrivateKey() (*rsa.PrivateKey, Source, error) {
	if l.keystoreConfigured() {
		key, err := l.fromKeystore()
		return key, SourceKeystore, err
	}

	if l.cfg.PEMEnv != "" {
		if content, ok := l.lookupEnv(l.cfg.PEMEnv); ok && strings.TrimSpace(content) != "" {
			key, err := ParsePrivateKeyPEM([]byte(content))
			if err != nil {
				return nil, SourcePEMEnv, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
					"keys: invalid PEM in %s", l.cfg.PEMEnv)
			}
			return key, SourcePEMEnv, nil
		}
	}

	path := l.cfg.PEMPath
	if l.cfg.PathEnv != "" {
		if p, ok := l.lookupEnv(l.cfg.PathEnv); ok && strings.TrimSpace(p) != "" {
			path = strings.TrimSpace(p)
		}
	}
	if path == "" {
		return nil, "", sserr.Wrap(ErrNoKeyMaterial, sserr.CodeInternalConfiguration, "keys: no signing key configured")
	}
	data, err := l.readFile(path)
	if err != nil {
		return nil, SourcePEMFile, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "keys: failed to read %s", path)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, SourcePEMFile, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "keys: invalid PEM in %s", path)
	}
	return key, SourcePEMFile, nil
}

// keystoreConfigured reports whether any keystore field is set; a partial
// configuration is then rejected by fromKeystore.
func (l *Loader) keystoreConfigured() bool {
	return l.cfg.KeystorePath != "" || !l.cfg.KeystorePassword.IsZero() || l.cfg.KeystoreAlias != ""
}

func (l *Loader) fromKeystore() (*rsa.PrivateKey, error) {
	var missing []string
	if l.cfg.KeystorePath == "" {
		missing = append(missing, "keystore_path")
	}
	if l.cfg.KeystorePassword.IsZero() {
		missing = append(missing, "keystore_password")
	}
	if l.cfg.KeystoreAlias == "" {
		missing = append(missing, "keystore_alias")
	}
	if len(missing) > 0 {
		return nil, sserr.Configurationf("keys: keystore is partially configured, missing %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}

	data, err := l.readFile(l.cfg.KeystorePath)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "keys: failed to read keystore %s", l.cfg.KeystorePath)
	}

	// keystore-go zeroes password slices after use, so each call gets its own copy.
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(l.cfg.KeystorePassword.Value())); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "keys: failed to open keystore")
	}
	entry, err := ks.GetPrivateKeyEntry(l.cfg.KeystoreAlias, []byte(l.cfg.KeystorePassword.Value()))
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"keys: keystore has no private key entry %q", l.cfg.KeystoreAlias)
	}
	key, err := ParsePrivateKeyDER(entry.PrivateKey)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"keys: keystore entry %q is not an RSA key", l.cfg.KeystoreAlias)
	}
	return key, nil
}

// Thumbprint returns the RFC 7638 JWK thumbprint of pub, base64url encoded.
func Thumbprint(pub *rsa.PublicKey) string {
	// Members in lexicographic order, no whitespace.
	canonical, _ := json.Marshal(struct {
		E   string `json:"e"`
		Kty string `json:"kty"`
		N   string `json:"n"`
	}{
		E:   EncodeExponent(pub.E),
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
	})
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// EncodeExponent renders an RSA public exponent as unpadded base64url of
// its big-endian bytes.
func EncodeExponent(e int) string {
	return base64.RawURLEncoding.EncodeToString(big.NewInt(int64(e)).Bytes())
}
