// Package pii seals personal fields (the ration card number) before they are
// written to a store.
package pii

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const prefix = "enc:v1:"

var ErrMalformed = errors.New("pii: malformed sealed value")

// Sealer encrypts and decrypts single field values.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Cipher is an XChaCha20-Poly1305 sealer.
type Cipher struct {
	key []byte
}

// NewCipher derives a 32 byte key from material (16, 24 or 32 bytes).
func NewCipher(material []byte) (*Cipher, error) {
	switch len(material) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("pii: key must be 16, 24 or 32 bytes, got %d", len(material))
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte("clothbridge pii")), key); err != nil {
		return nil, fmt.Errorf("pii: derive key: %w", err)
	}
	return &Cipher{key: key}, nil
}

func (c *Cipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as is so
// rows written before a key was configured stay readable.
func (c *Cipher) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefix) {
		return sealed, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("pii: open: %w", err)
	}
	return string(plain), nil
}

// Plain stores values unchanged. Used when no key is configured.
type Plain struct{}

func (Plain) Seal(s string) (string, error) { return s, nil }

func (Plain) Open(s string) (string, error) {
	if strings.HasPrefix(s, prefix) {
		return "", errors.New("pii: value is sealed but no key is configured")
	}
	return s, nil
}

var (
	_ Sealer = (*Cipher)(nil)
	_ Sealer = Plain{}
)
