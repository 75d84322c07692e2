package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Sealed values carry a version prefix so stored ciphertexts stay decodable
// across key-handling changes.
const sealedPrefix = "lanceiq.secret.v1:"

var (
	ErrBadKey        = errors.New("secrets: encryption key must be 32 bytes, base64 encoded")
	ErrNotSealed     = errors.New("secrets: value is not a sealed secret")
	ErrDecryptFailed = errors.New("secrets: decryption failed")
)

// Box encrypts and decrypts provider credentials at rest.
type Box struct {
	key [32]byte
}

func NewBox(encodedKey string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrBadKey
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &b.key)
	out := sealedPrefix + base64.StdEncoding.EncodeToString(sealed)
	return []byte(out), nil
}

func (b *Box) Open(value []byte) ([]byte, error) {
	s := string(value)
	if len(s) < len(sealedPrefix) || s[:len(sealedPrefix)] != sealedPrefix {
		return nil, ErrNotSealed
	}

	raw, err := base64.StdEncoding.DecodeString(s[len(sealedPrefix):])
	if err != nil || len(raw) < 24 {
		return nil, ErrNotSealed
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
