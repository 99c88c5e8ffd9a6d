package cryptox

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a := DeriveMasterKey([]byte("secret"), salt)
	b := DeriveMasterKey([]byte("secret"), salt)
	c := DeriveMasterKey([]byte("other"), salt)

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, MakeVerifier(a), MakeVerifier(b))
}

func TestDeriveSubkey_SeparatesPurposes(t *testing.T) {
	master := testKey()

	atomic, err := DeriveSubkey(master, PurposeAtomic)
	require.NoError(t, err)
	stream, err := DeriveSubkey(master, PurposeStream)
	require.NoError(t, err)

	assert.Len(t, atomic, KeySize)
	assert.NotEqual(t, atomic, stream)

	again, err := DeriveSubkey(master, PurposeAtomic)
	require.NoError(t, err)
	assert.Equal(t, atomic, again)

	_, err = DeriveSubkey(nil, PurposeAtomic)
	require.Error(t, err)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey()

	for _, size := range []int{0, 1, 15, 16, 17, 4096} {
		plaintext := common.GenerateRandByteArray(size)

		blob, err := Seal(plaintext, key)
		require.NoError(t, err)
		require.Len(t, blob, IVSize+size+TagSize)

		got, err := Open(blob, key)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, got), "size %d", size)
	}
}

func TestOpen_TamperAnyByteFails(t *testing.T) {
	key := testKey()
	plaintext := []byte("lesson 1: transcript")

	blob, err := Seal(plaintext, key)
	require.NoError(t, err)

	for i := range blob {
		tampered := bytes.Clone(blob)
		tampered[i] ^= 0x01

		got, err := Open(tampered, key)
		require.ErrorIs(t, err, common.ErrIntegrity, "byte %d", i)
		assert.Nil(t, got)
	}
}

func TestOpen_WrongKeyAndShortBlob(t *testing.T) {
	blob, err := Seal([]byte("x"), testKey())
	require.NoError(t, err)

	_, err = Open(blob, bytes.Repeat([]byte{0x01}, KeySize))
	require.ErrorIs(t, err, common.ErrIntegrity)

	_, err = Open(blob[:IVSize+TagSize-1], testKey())
	require.ErrorIs(t, err, common.ErrIntegrity)
}

func TestCounterAt(t *testing.T) {
	base := make([]byte, 16)

	assert.Equal(t, base, CounterAt(base, 0))

	one := CounterAt(base, 1)
	assert.Equal(t, byte(1), one[15])

	base[15] = 0xff
	carried := CounterAt(base, 1)
	assert.Equal(t, byte(0x00), carried[15])
	assert.Equal(t, byte(0x01), carried[14])
	assert.Equal(t, byte(0xff), base[15], "base IV must stay untouched")

	full := bytes.Repeat([]byte{0xff}, 16)
	assert.Equal(t, make([]byte, 16), CounterAt(full, 1))

	big := CounterAt(make([]byte, 16), 0x0102030405060708)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, big[8:])
}

func TestCounterAt_MatchesStdlibCTR(t *testing.T) {
	key := testKey()
	iv := append(bytes.Repeat([]byte{0x00}, 14), 0xff, 0xf0)
	plaintext := make([]byte, 64*aes.BlockSize)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	full := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(full, plaintext)

	for _, n := range []uint64{0, 1, 15, 16, 17, 40, 63} {
		part := make([]byte, aes.BlockSize)
		cipher.NewCTR(block, CounterAt(iv, n)).XORKeyStream(part, plaintext[:aes.BlockSize])
		assert.Equal(t, full[n*aes.BlockSize:(n+1)*aes.BlockSize], part, "block %d", n)
	}
}

func sealStreamBytes(t *testing.T, plaintext, key []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := SealStream(context.Background(), &buf, bytes.NewReader(plaintext), key)
	require.NoError(t, err)
	require.Equal(t, int64(len(plaintext)), n)
	return buf.Bytes()
}

func TestStream_RangeMatchesFullDecrypt(t *testing.T) {
	key := testKey()
	plaintext := common.GenerateRandByteArray(5000)
	blob := sealStreamBytes(t, plaintext, key)
	require.Len(t, blob, IVSize+len(plaintext))

	full, err := OpenStreamAt(bytes.NewReader(blob), key, 0, int64(len(plaintext)-1))
	require.NoError(t, err)
	all, err := io.ReadAll(full)
	require.NoError(t, err)
	require.Equal(t, plaintext, all)

	ranges := [][2]int64{
		{0, 0}, {0, 15}, {1, 1}, {15, 16}, {16, 31}, {17, 4000},
		{999, 1000}, {4990, 4999}, {0, 4999}, {4999, 4999},
	}
	for _, rg := range ranges {
		r, err := OpenStreamAt(bytes.NewReader(blob), key, rg[0], rg[1])
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, plaintext[rg[0]:rg[1]+1], got, "range %v", rg)
	}
}

type countingReaderAt struct {
	r        io.ReaderAt
	min, max int64
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < c.min {
		c.min = off
	}
	if end := off + int64(len(p)); end > c.max {
		c.max = end
	}
	return c.r.ReadAt(p, off)
}

func TestNewRangeReader_ReadsOnlyWindow(t *testing.T) {
	key := testKey()
	plaintext := common.GenerateRandByteArray(10000)
	blob := sealStreamBytes(t, plaintext, key)

	iv, err := ReadStreamHeader(bytes.NewReader(blob))
	require.NoError(t, err)

	cr := &countingReaderAt{r: bytes.NewReader(blob), min: 1 << 62}
	r, err := NewRangeReader(cr, key, iv, 5000, 5099)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Equal(t, plaintext[5000:5100], got)
	assert.GreaterOrEqual(t, cr.min, int64(IVSize+5000))
	assert.LessOrEqual(t, cr.max, int64(IVSize+5100))
}

func TestNewRangeReader_InvalidRange(t *testing.T) {
	_, err := NewRangeReader(bytes.NewReader(nil), testKey(), make([]byte, IVSize), 10, 5)
	require.Error(t, err)
	_, err = NewRangeReader(bytes.NewReader(nil), testKey(), make([]byte, IVSize), -1, 5)
	require.Error(t, err)
}

func TestSealStream_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := SealStream(ctx, &buf, bytes.NewReader([]byte("data")), testKey())
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	key := testKey()
	src := filepath.Join(dir, "plain.txt")
	plaintext := []byte("week 3 notes")
	require.NoError(t, os.WriteFile(src, plaintext, 0o600))

	atomicPath := filepath.Join(dir, "a.enc")
	n, err := SealFile(src, atomicPath, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plaintext))+LayoutAtomic.Overhead(), n)

	got, err := OpenFile(atomicPath, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	streamPath := filepath.Join(dir, "s.enc")
	n, err = SealStreamFile(context.Background(), src, streamPath, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plaintext))+LayoutStream.Overhead(), n)

	f, err := os.Open(streamPath)
	require.NoError(t, err)
	defer f.Close()
	r, err := OpenStreamAt(f, key, 5, 9)
	require.NoError(t, err)
	window, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plaintext[5:10], window)
}

func TestLayout(t *testing.T) {
	assert.Equal(t, int64(1000), LayoutAtomic.PlaintextSize(1032))
	assert.Equal(t, int64(1000), LayoutStream.PlaintextSize(1016))
	assert.Equal(t, int64(-1), LayoutAtomic.PlaintextSize(10))
	assert.Equal(t, "stream", LayoutStream.String())
}
