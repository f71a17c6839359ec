// Package pan protects Primary Account Numbers at rest. Cleartext PANs are
// never persisted: storage uses AES-GCM ciphertext, a deterministic SHA-256
// hash for equality lookup, and a first6/last4 display mask.
package pan

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKeySize = errors.New("pan: key must be 16, 24, or 32 bytes")
	ErrCiphertext     = errors.New("pan: malformed ciphertext")
)

// Protector encrypts, hashes, and masks PANs with a fixed key.
type Protector struct {
	aead cipher.AEAD
}

// NewProtector builds a protector from an AES key (16, 24, or 32 bytes).
func NewProtector(key []byte) (*Protector, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pan: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pan: %w", err)
	}
	return &Protector{aead: aead}, nil
}

// NewProtectorFromHex builds a protector from a hex-encoded key, the form
// carried in configuration files.
func NewProtectorFromHex(hexKey string) (*Protector, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("pan: decode key: %w", err)
	}
	return NewProtector(key)
}

// Encrypt returns base64(nonce || AES-GCM ciphertext). Empty input encrypts
// to the empty string.
func (p *Protector) Encrypt(cleartext string) (string, error) {
	if cleartext == "" {
		return "", nil
	}
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("pan: nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, []byte(cleartext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (p *Protector) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertext
	}
	ns := p.aead.NonceSize()
	if len(sealed) < ns {
		return "", ErrCiphertext
	}
	clear, err := p.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(clear), nil
}

// Hash returns the deterministic hex SHA-256 of the cleartext PAN, used for
// equality lookups without decrypting rows.
func Hash(cleartext string) string {
	if cleartext == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// Mask returns the display form: first six and last four digits with the
// middle replaced by asterisks. PANs too short to expose both windows are
// fully masked.
func Mask(cleartext string) string {
	n := len(cleartext)
	if n == 0 {
		return ""
	}
	if n < 13 {
		return strings.Repeat("*", n)
	}
	return cleartext[:6] + strings.Repeat("*", n-10) + cleartext[n-4:]
}
