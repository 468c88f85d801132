package update

import (
	"crypto/ed25519"
	"crypto/rand"
	_ "embed"
	"encoding/base64"
	"fmt"
	"strings"
)

// embeddedPublicKey is the manifest verification key checked into the
// build. The matching private key never enters the repository.
//
//go:embed keys/update_signing.pub
var embeddedPublicKey string

// KeyOverride names a replacement verification key. It is honored only in
// non-production builds; production builds compile the lookup out.
type KeyOverride struct {
	Value string // base64 public key
	File  string // path to a file holding a base64 public key
}

// LoadPublicKey returns the key manifests are verified against: the
// override when one is given in a non-production build, the embedded key
// otherwise.
func LoadPublicKey(override KeyOverride) (ed25519.PublicKey, error) {
	key, ok, err := overridePublicKey(override)
	if err != nil {
		return nil, err
	}
	if ok {
		return key, nil
	}
	return EmbeddedPublicKey()
}

// EmbeddedPublicKey parses the build-time key.
func EmbeddedPublicKey() (ed25519.PublicKey, error) {
	key, err := ParsePublicKey(embeddedPublicKey)
	if err != nil {
		return nil, fmt.Errorf("embedded update key: %w", err)
	}
	return key, nil
}

// ParsePublicKey decodes a base64 (standard encoding) Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// ParsePrivateKey decodes a base64 (standard encoding) Ed25519 private key.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

// EncodeKey returns the base64 form used by key files.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// GenerateSigningKey creates a new Ed25519 keypair for manifest signing.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}
