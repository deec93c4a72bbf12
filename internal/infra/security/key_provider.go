package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrKeyNotFound indicates a kid is unknown to the key provider.
var ErrKeyNotFound = errors.New("key not found")

// KeyProvider resolves verification keys for RS256 actor tokens.
type KeyProvider interface {
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// StaticKeyProvider serves a fixed set of public keys indexed by kid.
type StaticKeyProvider struct {
	keys map[string]*rsa.PublicKey
}

// NewStaticKeyProvider copies keys into a provider.
func NewStaticKeyProvider(keys map[string]*rsa.PublicKey) *StaticKeyProvider {
	copied := make(map[string]*rsa.PublicKey, len(keys))
	for kid, key := range keys {
		copied[kid] = key
	}
	return &StaticKeyProvider{keys: copied}
}

// LoadKeyDirectory reads every PEM file in dir. The file name without extension is the kid.
// Private keys contribute their public half.
func LoadKeyDirectory(dir string) (*StaticKeyProvider, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		key, err := parsePublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		keys[kid] = key
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys found in %s", dir)
	}

	return &StaticKeyProvider{keys: keys}, nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &key.PublicKey, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &rsaKey.PublicKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
	}

	return nil, errors.New("unsupported key type")
}

// GetVerificationKey returns the public key for kid.
func (p *StaticKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}
