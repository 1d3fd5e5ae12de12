// Package secretbox seals short secrets (TOTP seeds) before they are written to the database.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix marks a sealed value. Values without it are returned unchanged by Open.
const Prefix = "sb1:"

const nonceSize = 24

var (
	ErrInvalidKey    = errors.New("secretbox: key must be 32 bytes")
	ErrDecryptFailed = errors.New("secretbox: decryption failed")
)

// Box seals and opens values with a fixed key. A nil *Box is a passthrough.
type Box struct {
	key [32]byte
}

// New creates a Box from a raw 32 byte key
func New(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// NewFromBase64 creates a Box from a base64 encoded key. An empty string yields a nil Box.
func NewFromBase64(encoded string) (*Box, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext and returns Prefix + base64(nonce || box)
func (b *Box) Seal(plaintext string) (string, error) {
	if b == nil || plaintext == "" {
		return plaintext, nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Unsealed values pass through untouched
// so rows written before a key was configured stay readable.
func (b *Box) Open(value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}
	if b == nil {
		return "", fmt.Errorf("secretbox: sealed value but no key configured")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecryptFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
