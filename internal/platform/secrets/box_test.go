package secrets

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKey())
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	plaintext := []byte("sk_live_abc123")
	sealed, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Expected %q, got %q", plaintext, opened)
	}
}

func TestOpenRejectsUnsealedValue(t *testing.T) {
	box, _ := NewBox(testKey())

	if _, err := box.Open([]byte("sk_live_plaintext")); err != ErrNotSealed {
		t.Errorf("Expected ErrNotSealed, got %v", err)
	}
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	box, _ := NewBox(testKey())
	sealed, err := box.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	other, _ := NewBox(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32)))
	if _, err := other.Open(sealed); err != ErrDecryptFailed {
		t.Errorf("Expected ErrDecryptFailed, got %v", err)
	}
}

func TestNewBoxRejectsBadKey(t *testing.T) {
	if _, err := NewBox("not-base64!!"); err != ErrBadKey {
		t.Errorf("Expected ErrBadKey, got %v", err)
	}
	if _, err := NewBox(base64.StdEncoding.EncodeToString([]byte("short"))); err != ErrBadKey {
		t.Errorf("Expected ErrBadKey for short key, got %v", err)
	}
}
