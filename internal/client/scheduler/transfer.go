package scheduler

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/vault"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/cryptox"
	"github.com/dmitrijs2005/coursekeeper/internal/filex"
	"github.com/klauspost/compress/zstd"
)

const copyBufferSize = 64 << 10

type workFiles struct {
	part       string
	compressed string
	sealed     string
}

func filesFor(workDir, fileID string) workFiles {
	base := filepath.Join(workDir, vault.StorageKey(fileID)[:32])
	return workFiles{
		part:       base + ".part",
		compressed: base + ".zst.part",
		sealed:     base + ".enc.part",
	}
}

// transfer runs one attempt of the download, verify, seal and store pipeline
// for f. A partial file left by an earlier attempt is resumed by range.
func (s *Scheduler) transfer(ctx context.Context, t *task, r *run, f models.File) error {
	wf := filesFor(t.workDir, f.ID)

	var err error
	if f.Locator == "" {
		err = s.writeInline(t, r, f, wf.part)
	} else {
		err = s.download(ctx, t, r, f, wf.part)
	}
	if err != nil {
		return err
	}

	if err := verify(wf.part, f); err != nil {
		_ = filex.RemoveIfExists(wf.part)
		return err
	}

	plain, compression := wf.part, ""
	if f.Kind == models.FileKindText && t.opts.Compress {
		if err := s.transition(t, r, models.StatusCompressing); err != nil {
			return err
		}
		if err := compressFile(ctx, wf.part, wf.compressed); err != nil {
			_ = filex.RemoveIfExists(wf.compressed)
			return common.Classify(err)
		}
		if err := s.transition(t, r, models.StatusDownloading); err != nil {
			return err
		}
		plain, compression = wf.compressed, models.CompressionZstd
	}

	layout := models.LayoutAtomic
	if f.Kind.Streamed() {
		layout = models.LayoutStream
		_, err = cryptox.SealStreamFile(ctx, plain, wf.sealed, s.cfg.StreamKey)
	} else {
		_, err = cryptox.SealFile(plain, wf.sealed, s.cfg.AtomicKey)
	}
	if err != nil {
		_ = filex.RemoveIfExists(wf.sealed)
		return common.Classify(err)
	}

	if _, err := s.store.Put(ctx, f.ID, wf.sealed, s.putMeta(t, f, layout, compression)); err != nil {
		_ = filex.RemoveIfExists(wf.sealed)
		return err
	}

	_ = filex.RemoveIfExists(wf.part)
	_ = filex.RemoveIfExists(wf.compressed)
	return nil
}

func (s *Scheduler) writeInline(t *task, r *run, f models.File, part string) error {
	if err := os.WriteFile(part, []byte(f.Inline), 0o600); err != nil {
		return common.Classify(err)
	}
	return s.addBytes(t, r, int64(len(f.Inline)), len(f.Inline))
}

func (s *Scheduler) download(ctx context.Context, t *task, r *run, f models.File, part string) error {
	start, err := filex.Size(part)
	if err != nil {
		return common.Classify(err)
	}
	if f.Size > 0 && start > f.Size {
		if err := filex.RemoveIfExists(part); err != nil {
			return common.Classify(err)
		}
		start = 0
	}
	if f.Size > 0 && start == f.Size {
		return s.addBytes(t, r, start, 0)
	}

	body, err := s.transport.FetchRange(ctx, f.Locator, start)
	if err != nil {
		return err
	}
	defer body.Close()

	if body.Offset > start || body.Offset < 0 {
		return fmt.Errorf("%w: origin answered from offset %d, asked for %d", common.ErrIntegrity, body.Offset, start)
	}

	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return common.Classify(err)
	}
	defer out.Close()

	// A server that ignored the range sends everything again.
	if err := out.Truncate(body.Offset); err != nil {
		return common.Classify(err)
	}
	if _, err := out.Seek(body.Offset, io.SeekStart); err != nil {
		return common.Classify(err)
	}

	current := body.Offset
	if err := s.addBytes(t, r, current, 0); err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return common.Classify(err)
			}
			current += int64(n)
			if err := s.addBytes(t, r, current, n); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return transientRead(rerr)
		}
	}

	if err := out.Sync(); err != nil {
		return common.Classify(err)
	}
	return nil
}

// transientRead classifies a failed body read. A connection that drops
// mid-body is worth retrying whatever the OS called it.
func transientRead(err error) error {
	c := common.Classify(err)
	if common.IsTransient(c) || common.IsFatal(c) {
		return c
	}
	return fmt.Errorf("%w: %w", common.ErrTransientNetwork, err)
}

func verify(path string, f models.File) error {
	if f.Size > 0 {
		size, err := filex.Size(path)
		if err != nil {
			return common.Classify(err)
		}
		if size != f.Size {
			return fmt.Errorf("%w: %s has %d bytes, want %d", common.ErrIntegrity, f.ID, size, f.Size)
		}
	}

	var h hash.Hash
	switch len(f.Checksum) {
	case 0:
		return nil
	case 32:
		h = md5.New()
	case 64:
		h = sha256.New()
	default:
		return fmt.Errorf("%w: unsupported checksum for %s", common.ErrIntegrity, f.ID)
	}

	in, err := os.Open(path)
	if err != nil {
		return common.Classify(err)
	}
	defer in.Close()
	if _, err := io.Copy(h, in); err != nil {
		return common.Classify(err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != f.Checksum {
		return fmt.Errorf("%w: %s checksum %s, want %s", common.ErrIntegrity, f.ID, got, f.Checksum)
	}
	return nil
}

func compressFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, filex.ContextReader(ctx, in)); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return out.Sync()
}
