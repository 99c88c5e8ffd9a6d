package filex

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir_CreatesNestedDirectory(t *testing.T) {
	tmp := t.TempDir()
	want := filepath.Join(tmp, "vault", "ab")

	got, err := EnsureDir(want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}

	again, err := EnsureDir(want)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestEnsureDir_FailsWhenPathIsFile(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := EnsureDir(filepath.Join(file, "sub"))
	require.Error(t, err)
}

func TestSizeAndExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "f.part")

	n, err := Size(path)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, Exists(path))

	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))
	n, err = Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.True(t, Exists(path))
}

func TestRemoveIfExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "gone")

	require.NoError(t, RemoveIfExists(path))
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, RemoveIfExists(path))
	assert.False(t, Exists(path))
}

func TestMove_CreatesParentAndRemovesSource(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src.enc")
	dst := filepath.Join(tmp, "store", "ab", "abcdef")
	require.NoError(t, os.WriteFile(src, []byte("cipher"), 0o600))

	require.NoError(t, Move(src, dst))

	assert.False(t, Exists(src))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher"), b)
}

func TestMove_MissingSource(t *testing.T) {
	tmp := t.TempDir()
	err := Move(filepath.Join(tmp, "nope"), filepath.Join(tmp, "dst"))
	require.Error(t, err)
}

func TestContextReader_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := ContextReader(ctx, strings.NewReader("abcdef"))

	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	cancel()
	_, err = r.Read(buf)
	require.ErrorIs(t, err, context.Canceled)
}
