package cryptox

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/dmitrijs2005/coursekeeper/internal/filex"
)

// CounterAt returns baseIV advanced by blockIndex AES blocks. The whole IV is
// treated as one big-endian 128-bit counter, the same way crypto/cipher's CTR
// mode increments it. baseIV is not modified.
func CounterAt(baseIV []byte, blockIndex uint64) []byte {
	iv := make([]byte, len(baseIV))
	copy(iv, baseIV)

	carry := blockIndex
	for i := len(iv) - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(iv[i]) + (carry & 0xff)
		iv[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	return iv
}

func newCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid iv length %d", len(iv))
	}
	return cipher.NewCTR(block, iv), nil
}

// SealStream writes IV‖ciphertext of everything read from src to dst,
// holding only one copy buffer in memory. It returns the number of plaintext
// bytes consumed. The copy stops with ctx.Err() once ctx is done.
func SealStream(ctx context.Context, dst io.Writer, src io.Reader, key []byte) (int64, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return 0, err
	}

	stream, err := newCTR(key, iv)
	if err != nil {
		return 0, err
	}

	if _, err := dst.Write(iv); err != nil {
		return 0, err
	}

	w := &cipher.StreamWriter{S: stream, W: dst}
	return io.Copy(w, filex.ContextReader(ctx, src))
}

// ReadStreamHeader reads the IV of a stream blob.
func ReadStreamHeader(r io.ReaderAt) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := r.ReadAt(iv, 0); err != nil {
		return nil, fmt.Errorf("read stream header: %w", err)
	}
	return iv, nil
}

// NewRangeReader returns a reader over plaintext bytes [start, end] of a
// stream blob whose IV is iv. Only the ciphertext inside the window is read:
// the counter is positioned at floor(start/16) with CounterAt and the
// keystream is advanced by start%16 bytes before the first read.
func NewRangeReader(r io.ReaderAt, key, iv []byte, start, end int64) (io.Reader, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range %d-%d", start, end)
	}

	stream, err := newCTR(key, CounterAt(iv, uint64(start/aes.BlockSize)))
	if err != nil {
		return nil, err
	}

	if skip := start % aes.BlockSize; skip > 0 {
		scratch := make([]byte, skip)
		stream.XORKeyStream(scratch, scratch)
	}

	section := io.NewSectionReader(r, IVSize+start, end-start+1)
	return &cipher.StreamReader{S: stream, R: section}, nil
}

// OpenStreamAt reads the header of a stream blob and returns a reader over
// plaintext bytes [start, end].
func OpenStreamAt(r io.ReaderAt, key []byte, start, end int64) (io.Reader, error) {
	iv, err := ReadStreamHeader(r)
	if err != nil {
		return nil, err
	}
	return NewRangeReader(r, key, iv, start, end)
}
