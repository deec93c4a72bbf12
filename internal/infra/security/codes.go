package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/arklim/superauth/internal/core/port"
)

// GenerateNumericCode returns a uniformly random numeric string of the given length.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	ten := big.NewInt(10)
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}

	return string(digits), nil
}

// HMACFingerprinter derives keyed SHA-256 fingerprints of secrets.
type HMACFingerprinter struct {
	key []byte
}

// NewHMACFingerprinter constructs a fingerprinter; the key must be non-empty.
func NewHMACFingerprinter(key string) (*HMACFingerprinter, error) {
	if key == "" {
		return nil, errors.New("fingerprint key is required")
	}
	return &HMACFingerprinter{key: []byte(key)}, nil
}

// Fingerprint returns the hex-encoded HMAC of secret.
func (f *HMACFingerprinter) Fingerprint(secret string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ port.Fingerprinter = (*HMACFingerprinter)(nil)
