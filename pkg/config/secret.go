package config

// Secret is a string whose printed and serialised forms are redacted.
// The loader sets it like any other string field; only [Secret.Value]
// exposes the raw content.
type Secret string

const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw secret. Call it only where the secret is consumed.
func (s Secret) Value() string { return string(s) }

// IsZero reports whether no secret is set.
func (s Secret) IsZero() bool { return s == "" }

// MarshalText keeps secrets out of JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }
