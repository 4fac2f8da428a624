package crypto

import (
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sealed, err := c.Encrypt("EAAG-access-token-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if parts := strings.Split(sealed, ":"); len(parts) != 3 {
		t.Fatalf("expected iv:tag:ct format, got %q", sealed)
	}
	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "EAAG-access-token-value" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, _ := New(testKey)
	sealed, _ := c.Encrypt("secret")
	parts := strings.Split(sealed, ":")
	tampered := parts[0] + ":" + parts[1] + ":" + strings.Repeat("00", len(parts[2])/2)
	if _, err := c.Decrypt(tampered); err == nil {
		t.Fatal("expected decryption failure for tampered ciphertext")
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New("deadbeef"); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := New("zz"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
}

func TestEncryptEmptyString(t *testing.T) {
	c, _ := New(testKey)
	if _, err := c.Encrypt(""); err == nil {
		t.Fatal("expected error for empty plaintext")
	}
}
