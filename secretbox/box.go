// Package secretbox encrypts small secrets at rest: TOTP seeds and
// recovery-code sets. A single process-wide AES-256-GCM key is derived by
// SHA-256 from a configured passphrase. Each Seal draws a fresh random
// nonce, prepends it to the ciphertext, and the AEAD tag authenticates the
// whole blob — tampering is detected, never silently decrypted.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

// ErrCorrupt is returned by Open when the blob is truncated or fails the
// authentication tag check. Callers must treat it as fatal for the request,
// never as an empty secret.
var ErrCorrupt = errors.New("secretbox: ciphertext corrupt or tampered")

// Box seals and opens secret blobs with a fixed symmetric key.
type Box struct {
	aead cipher.AEAD
}

// New derives the AES-256 key from passphrase and returns a ready Box.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("secretbox: empty passphrase")
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns
// nonce||ciphertext||tag. Any byte content round-trips, including empty
// input.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. A truncated blob or failed tag
// check returns ErrCorrupt.
func (b *Box) Open(blob []byte) ([]byte, error) {
	if len(blob) < b.aead.NonceSize() {
		return nil, ErrCorrupt
	}

	nonce := blob[:b.aead.NonceSize()]
	plaintext, err := b.aead.Open(nil, nonce, blob[b.aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}
