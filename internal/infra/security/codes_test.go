package security

import (
	"testing"
	"unicode"
)

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	if err != nil {
		t.Fatalf("GenerateNumericCode: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			t.Fatalf("expected digits only, got %q", code)
		}
	}

	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestHMACFingerprinterIsKeyed(t *testing.T) {
	a, err := NewHMACFingerprinter("key-a")
	if err != nil {
		t.Fatalf("NewHMACFingerprinter: %v", err)
	}
	b, _ := NewHMACFingerprinter("key-b")

	if a.Fingerprint("secret") != a.Fingerprint("secret") {
		t.Fatal("expected deterministic fingerprint")
	}
	if a.Fingerprint("secret") == b.Fingerprint("secret") {
		t.Fatal("expected different keys to produce different fingerprints")
	}
	if len(a.Fingerprint("secret")) != 64 {
		t.Fatal("expected hex sha256 length")
	}

	if _, err := NewHMACFingerprinter(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
