// Package secret encrypts and decrypts stored connection secrets.
//
// Envelopes are AES-256-GCM with a fresh random nonce per call, written as
// hex(nonce):hex(tag):hex(ciphertext) so they survive text columns. The key is
// loaded once at process start; rotating it invalidates every stored envelope.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/programmerrush/InsightDB-api/internal/errs"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize matches the 16-byte IV of envelopes already stored by earlier
	// deployments, so they keep decrypting.
	NonceSize = 16

	tagSize = 16
)

// Cipher seals and opens secret envelopes. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid encryption key", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to initialise gcm", err)
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "encryption key is not valid hex", err)
	}
	if len(key) != KeySize {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a new random key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext into an envelope.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errs.Wrap(errs.ErrKindUnknown, "failed to read random nonce", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an envelope produced by Encrypt.
// It fails with a Format error when the envelope does not parse, including
// upper-case hex, which Encrypt never writes, and with an Integrity error
// when authentication fails.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", errs.Newf(errs.ErrKindFormat, "envelope must have 3 parts, got %d", len(parts))
	}

	nonce, ok := decodeHex(parts[0])
	if !ok || len(nonce) != NonceSize {
		return "", errs.New(errs.ErrKindFormat, "envelope nonce is malformed")
	}
	tag, ok := decodeHex(parts[1])
	if !ok || len(tag) != tagSize {
		return "", errs.New(errs.ErrKindFormat, "envelope tag is malformed")
	}
	ct, ok := decodeHex(parts[2])
	if !ok {
		return "", errs.New(errs.ErrKindFormat, "envelope ciphertext is malformed")
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindIntegrity, "envelope failed authentication", err)
	}
	return string(plain), nil
}

// decodeHex accepts only the lower-case encoding Encrypt writes, so every
// envelope has exactly one valid text form.
func decodeHex(s string) ([]byte, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || hex.EncodeToString(b) != s {
		return nil, false
	}
	return b, true
}
