// Package security encrypts provider credentials before they are persisted.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	separator = ":"
	hkdfInfo  = "socialpulse token cipher v1"
)

// ConfigurationError is returned when the cipher has no usable key.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "token cipher misconfigured: " + e.Message
}

// DecryptionError is returned for malformed, tampered or foreign ciphertext.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt token: %s: %v", e.Reason, e.Err)
	}
	return "decrypt token: " + e.Reason
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// TokenCipher performs authenticated symmetric encryption of token strings.
// Ciphertext is encoded as hex(nonce) ":" hex(sealed), where sealed carries the
// GCM tag. A TokenCipher is safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewTokenCipher derives an AES-256 key from secret with HKDF-SHA256.
func NewTokenCipher(secret []byte) (*TokenCipher, error) {
	if len(secret) == 0 {
		return nil, &ConfigurationError{Message: "encryption key is empty"}
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &TokenCipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", &ConfigurationError{Message: "cipher not initialised"}
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + separator + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *TokenCipher) Decrypt(blob string) (string, error) {
	if c == nil || c.aead == nil {
		return "", &ConfigurationError{Message: "cipher not initialised"}
	}

	parts := strings.Split(blob, separator)
	if len(parts) != 2 {
		return "", &DecryptionError{Reason: "invalid format"}
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", &DecryptionError{Reason: "invalid nonce encoding", Err: err}
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", &DecryptionError{Reason: "invalid nonce length"}
	}

	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &DecryptionError{Reason: "invalid ciphertext encoding", Err: err}
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}

	return string(plaintext), nil
}

// IsDecryptionError reports whether err is, or wraps, a DecryptionError.
func IsDecryptionError(err error) bool {
	var decErr *DecryptionError
	return errors.As(err, &decErr)
}
