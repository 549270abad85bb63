// Package securebox seals session material before it leaves process memory.
// Records persisted to blob storage contain cookies and fingerprints, so
// they are encrypted with AES-256-GCM under a key derived from the
// deployment secret.
package securebox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort is returned when a payload is shorter than the
// nonce prefix and therefore cannot have been produced by Seal.
var ErrCiphertextTooShort = errors.New("securebox: ciphertext too short")

// Box encrypts and decrypts opaque payloads. The zero value is unusable;
// construct with New.
type Box struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from secret with SHA-256 and builds an
// AES-256-GCM box around it. The same secret always yields the same key,
// so records sealed by one process open in another.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("securebox: secret is required")
	}
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("securebox: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("securebox: gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the returned
// ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("securebox: nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal. Tampered or foreign-key
// payloads fail authentication.
func (b *Box) Open(ciphertext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("securebox: open: %w", err)
	}
	return plaintext, nil
}
