// Package secrets encrypts OAuth tokens before they reach the database.
package secrets

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

const (
	sealedPrefix = "v1:"
	keySalt      = "socialrelay-token-store"
	keyInfo      = "token-encryption-key-v1"
	minSecretLen = 16
)

var (
	// ErrSecretTooShort rejects weak master secrets.
	ErrSecretTooShort = fmt.Errorf("encryption secret must be at least %d characters", minSecretLen)

	// ErrNotSealed is returned when opening a value that was never sealed.
	ErrNotSealed = errors.New("value is not sealed")
)

// Cipher seals values with XChaCha20-Poly1305 under a key derived from a
// master secret. Sealed values are bound to an associated label, typically
// the owning record and column, so they cannot be swapped between rows.
type Cipher struct {
	key []byte
}

// NewCipher derives the sealing key from secret.
func NewCipher(secret string) (*Cipher, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(keySalt), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// Seal encrypts plaintext bound to label. Empty input stays empty. A nil
// Cipher stores values as-is.
func (c *Cipher) Seal(plaintext, label string) (string, error) {
	if plaintext == "" || c == nil {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal with the same label. Values without
// the sealed prefix are returned unchanged when the Cipher is nil.
func (c *Cipher) Open(value, label string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsSealed(value) {
		if c == nil {
			return value, nil
		}
		return "", ErrNotSealed
	}
	if c == nil {
		return "", errors.New("sealed value found but no encryption secret is configured")
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errors.New("sealed value too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
