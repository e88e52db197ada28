// Package crypto holds the Ed25519 identity a receiver presents over QUIC and
// the fingerprint controllers pin it by.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

// ErrKeyType indicates a PEM file holding something other than an Ed25519 key.
var ErrKeyType = errors.New("crypto: key is not Ed25519")

// Identity is a long-lived Ed25519 keypair and its fingerprint.
type Identity struct {
	PrivateKey  ed25519.PrivateKey
	PublicKey   ed25519.PublicKey
	Fingerprint string
}

// LoadOrCreateIdentity loads the keypair from privatePath, generating and
// saving one on first use. The public key file is rewritten whenever it is
// missing or disagrees with the private key.
func LoadOrCreateIdentity(privatePath, publicPath string) (*Identity, error) {
	privateKey, err := LoadPrivateKey(privatePath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		_, privateKey, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate Ed25519 key: %w", err)
		}
		if err := SavePrivateKey(privatePath, privateKey); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	if stored, err := LoadPublicKey(publicPath); err != nil || !stored.Equal(publicKey) {
		if err := SavePublicKey(publicPath, publicKey); err != nil {
			return nil, err
		}
	}

	return &Identity{
		PrivateKey:  privateKey,
		PublicKey:   publicKey,
		Fingerprint: KeyFingerprint(publicKey),
	}, nil
}

// LoadPrivateKey reads a PKCS#8 PEM Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	der, err := readPEM(path, privatePEMType)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key %q: %w", path, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyType, path)
	}
	return key, nil
}

// LoadPublicKey reads a PKIX PEM Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	der, err := readPEM(path, publicPEMType)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key %q: %w", path, err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyType, path)
	}
	return key, nil
}

// SavePrivateKey writes key as PKCS#8 PEM with 0600 permissions.
func SavePrivateKey(path string, key ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	return writePEM(path, privatePEMType, der, 0o600)
}

// SavePublicKey writes key as PKIX PEM.
func SavePublicKey(path string, key ed25519.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	return writePEM(path, publicPEMType, der, 0o644)
}

// KeyFingerprint returns the first 16 bytes of the key's SHA-256, hex encoded.
func KeyFingerprint(publicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint groups a fingerprint into uppercase blocks of four.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	groups := make([]string, 0, (len(clean)+3)/4)
	for len(clean) > 4 {
		groups = append(groups, clean[:4])
		clean = clean[4:]
	}
	if clean != "" {
		groups = append(groups, clean)
	}
	return strings.Join(groups, " ")
}

func readPEM(path, blockType string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %q: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode key %q: no PEM block", path)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("decode key %q: unexpected PEM type %q", path, block.Type)
	}
	return block.Bytes, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write key %q: %w", path, err)
	}
	return nil
}
