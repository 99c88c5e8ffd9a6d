// Package cryptox implements at-rest encryption for cached course content.
//
// Two blob layouts are supported:
//
//	atomic: [IV 16][ciphertext][tag 16]  AES-256-GCM, whole blob in memory
//	stream: [IV 16][ciphertext]          AES-256-CTR, seekable, constant memory
//
// Atomic blobs are verified before any plaintext is returned. Stream blobs
// give confidentiality only; a sub-range cannot be authenticated.
package cryptox

import (
	"crypto/aes"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of every symmetric key handled by this package.
	KeySize = 32
	// IVSize is the header size shared by both layouts.
	IVSize = aes.BlockSize
	// TagSize is the GCM tag size trailing atomic blobs.
	TagSize = 16
)

// Purpose separates the subkeys derived from the master key. Changing a
// value invalidates every blob sealed under it.
type Purpose string

const (
	PurposeAtomic Purpose = "coursekeeper.atomic.v1"
	PurposeStream Purpose = "coursekeeper.stream.v1"
)

func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// DeriveSubkey expands the master key into a purpose-bound key with
// HKDF-SHA256, so the GCM and CTR layouts never share key material.
func DeriveSubkey(masterKey []byte, purpose Purpose) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("derive %s: empty master key", purpose)
	}
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive %s: %w", purpose, err)
	}
	return key, nil
}

// Layout identifies the on-disk format of a sealed blob.
type Layout int

const (
	LayoutAtomic Layout = iota + 1
	LayoutStream
)

func (l Layout) String() string {
	switch l {
	case LayoutAtomic:
		return "atomic"
	case LayoutStream:
		return "stream"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// Overhead is the number of non-payload bytes in a blob of this layout.
func (l Layout) Overhead() int64 {
	if l == LayoutAtomic {
		return IVSize + TagSize
	}
	return IVSize
}

// PlaintextSize returns the payload size of a blob of fileSize bytes, or -1
// when the file is too short to hold the header and trailer.
func (l Layout) PlaintextSize(fileSize int64) int64 {
	n := fileSize - l.Overhead()
	if n < 0 {
		return -1
	}
	return n
}
