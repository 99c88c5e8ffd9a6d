package cryptox

import (
	"context"
	"fmt"
	"os"
)

// SealFile reads src fully and writes the atomic blob to dst. dst is
// created or truncated and fsynced before returning.
func SealFile(src, dst string, key []byte) (int64, error) {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}
	return SealBytesToFile(plaintext, dst, key)
}

// SealBytesToFile writes the atomic blob of plaintext to dst.
func SealBytesToFile(plaintext []byte, dst string, key []byte) (int64, error) {
	blob, err := Seal(plaintext, key)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return int64(len(blob)), nil
}

// OpenFile reads and authenticates an atomic blob stored at path.
func OpenFile(path string, key []byte) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(blob, key)
}

// SealStreamFile encrypts src into a stream blob at dst and returns the
// size of the written blob.
func SealStreamFile(ctx context.Context, src, dst string, key []byte) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}

	n, err := SealStream(ctx, out, in, key)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("seal stream: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return n + IVSize, nil
}
