package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/coursekeeper/internal/common"
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// Seal encrypts plaintext with AES-GCM under a fresh random IV and returns
// IV‖ciphertext‖tag.
func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, IVSize, IVSize+len(plaintext)+TagSize)
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}

	return aead.Seal(out, out[:IVSize], plaintext, nil), nil
}

// Open authenticates and decrypts a blob produced by Seal. Nothing is
// returned unless the tag verifies; any mismatch yields common.ErrIntegrity.
func Open(blob, key []byte) ([]byte, error) {
	if len(blob) < IVSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", common.ErrIntegrity, len(blob))
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, blob[:IVSize], blob[IVSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrIntegrity, err)
	}
	return plaintext, nil
}
