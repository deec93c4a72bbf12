package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestActorTokenVerifierHS256(t *testing.T) {
	verifier, err := NewActorTokenVerifier(ActorTokenConfig{Secret: "shh", Issuer: "host-app"})
	if err != nil {
		t.Fatalf("NewActorTokenVerifier: %v", err)
	}

	now := time.Now()
	token := signHS256(t, "shh", &ActorClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "host-app",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Actor() != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.Actor())
	}
}

func TestActorTokenVerifierRejects(t *testing.T) {
	verifier, _ := NewActorTokenVerifier(ActorTokenConfig{Secret: "shh"})
	now := time.Now()

	cases := map[string]string{
		"wrong secret": signHS256(t, "other", &ActorClaims{
			UserID:           "user-1",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))},
		}),
		"expired": signHS256(t, "shh", &ActorClaims{
			UserID:           "user-1",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))},
		}),
		"no expiry": signHS256(t, "shh", &ActorClaims{UserID: "user-1"}),
		"no subject": signHS256(t, "shh", &ActorClaims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))},
		}),
		"garbage": "not-a-token",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestActorTokenVerifierRS256FromKeyDirectory(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(dir, "primary.pem"), pemBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	provider, err := LoadKeyDirectory(dir)
	if err != nil {
		t.Fatalf("LoadKeyDirectory: %v", err)
	}
	verifier, err := NewActorTokenVerifier(ActorTokenConfig{Keys: provider})
	if err != nil {
		t.Fatalf("NewActorTokenVerifier: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	token.Header["kid"] = "primary"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := verifier.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Actor() != "user-9" {
		t.Fatalf("expected sub fallback, got %q", claims.Actor())
	}

	token.Header["kid"] = "unknown"
	signed, _ = token.SignedString(key)
	if _, err := verifier.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown kid to fail, got %v", err)
	}
}

func TestNewActorTokenVerifierRequiresKeyMaterial(t *testing.T) {
	if _, err := NewActorTokenVerifier(ActorTokenConfig{}); err == nil {
		t.Fatal("expected error without secret or keys")
	}
}
