// Package vault is the size-bounded store of encrypted artifacts.
//
// Blobs live under Root in content-addressed paths derived from the
// artifact id; the SQLite index (repositories/cache) is the single source of
// truth for what is resident and how much space it uses. Every mutation
// runs under one mutex, and a blob is renamed into place before its index
// row is written, so Get never observes a row whose file is still being
// written.
package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/filex"
	"github.com/dmitrijs2005/coursekeeper/internal/logging"
	"github.com/zeebo/blake3"
)

// CourseLookup answers whether a course still exists upstream.
type CourseLookup interface {
	Exists(ctx context.Context, courseID string) (bool, error)
}

type Config struct {
	Root     string
	Capacity int64

	// EvictionAge and PriorityFloor drive the aged pass of Sweep: entries
	// untouched for longer than EvictionAge with priority below
	// PriorityFloor are removed.
	EvictionAge   time.Duration
	PriorityFloor int
}

// PutMeta describes an artifact handed to Put.
type PutMeta struct {
	OriginalPath string
	ContentType  string
	Layout       string
	Priority     int
	CourseID     string
	LessonID     string
	Compression  string

	// Replace swaps out a resident artifact instead of keeping it.
	Replace bool
}

type Vault struct {
	mu sync.Mutex

	cfg     Config
	repo    cache.Repository
	courses CourseLookup
	logger  logging.Logger

	now       func() time.Time
	freeSpace func(dir string) (uint64, error)
}

// New opens the vault rooted at cfg.Root. courses may be nil, in which case
// Sweep skips the removed-course pass.
func New(cfg Config, repo cache.Repository, courses CourseLookup, logger logging.Logger) (*Vault, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("vault capacity must be positive")
	}
	root, err := filex.EnsureDir(cfg.Root)
	if err != nil {
		return nil, common.Classify(err)
	}
	cfg.Root = root
	if cfg.PriorityFloor == 0 {
		cfg.PriorityFloor = 7
	}
	if cfg.EvictionAge == 0 {
		cfg.EvictionAge = 30 * 24 * time.Hour
	}

	return &Vault{
		cfg:       cfg,
		repo:      repo,
		courses:   courses,
		logger:    logger.With("component", "vault"),
		now:       time.Now,
		freeSpace: diskFree,
	}, nil
}

func (v *Vault) Capacity() int64 { return v.cfg.Capacity }

func (v *Vault) Root() string { return v.cfg.Root }

// StorageKey is the content address of an artifact id.
func StorageKey(artifactID string) string {
	sum := blake3.Sum256([]byte(artifactID))
	return hex.EncodeToString(sum[:])
}

func (v *Vault) blobPath(storageKey string) string {
	return filepath.Join(v.cfg.Root, storageKey[:2], storageKey)
}

// Put takes ownership of the sealed blob at sourcePath and makes it resident
// under artifactID. Putting an artifact that is already resident only
// refreshes its access stats and removes the redundant source, unless
// meta.Replace is set.
func (v *Vault) Put(ctx context.Context, artifactID, sourcePath string, meta PutMeta) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()

	existing, err := v.repo.Get(ctx, artifactID)
	switch {
	case err == nil && meta.Replace:
		// The new blob lands on the same storage key; dropping the row keeps
		// the old bytes out of the capacity check.
		if err := v.repo.Delete(ctx, artifactID); err != nil {
			return "", err
		}
	case err == nil:
		if filex.Exists(v.blobPath(existing.StorageKey)) {
			if err := v.repo.Touch(ctx, artifactID, now); err != nil {
				return "", err
			}
			if err := filex.RemoveIfExists(sourcePath); err != nil {
				v.logger.Warn(ctx, "failed to remove redundant source", "path", sourcePath, "err", err)
			}
			return existing.StorageKey, nil
		}
		v.logger.Warn(ctx, "index row without blob, replacing", "artifact", artifactID)
		if err := v.repo.Delete(ctx, artifactID); err != nil {
			return "", err
		}
	case !errors.Is(err, common.ErrNotFound):
		return "", err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", common.Classify(err))
	}
	size := info.Size()
	if size > v.cfg.Capacity {
		return "", fmt.Errorf("%w: artifact %s is %d bytes, capacity is %d", common.ErrCapacity, artifactID, size, v.cfg.Capacity)
	}

	total, err := v.repo.TotalSize(ctx)
	if err != nil {
		return "", err
	}
	if over := total + size - v.cfg.Capacity; over > 0 {
		if _, err := v.evictLocked(ctx, over, now); err != nil {
			return "", err
		}
	}

	if free, err := v.freeSpace(v.cfg.Root); err == nil && free < uint64(size) {
		return "", fmt.Errorf("%w: %d bytes free, need %d", common.ErrDiskFull, free, size)
	}

	key := StorageKey(artifactID)
	dst := v.blobPath(key)
	if err := filex.Move(sourcePath, dst); err != nil {
		return "", fmt.Errorf("move blob into vault: %w", common.Classify(err))
	}

	layout := meta.Layout
	if layout == "" {
		layout = models.LayoutAtomic
	}
	priority := meta.Priority
	if priority == 0 {
		priority = 5
	}
	entry := &models.CacheEntry{
		ArtifactID:     artifactID,
		StorageKey:     key,
		OriginalPath:   meta.OriginalPath,
		ByteSize:       size,
		ContentType:    meta.ContentType,
		Layout:         layout,
		CreatedAt:      now,
		LastAccessedAt: now,
		Priority:       priority,
		CourseID:       meta.CourseID,
		LessonID:       meta.LessonID,
		Compression:    meta.Compression,
	}
	if entry.ContentType == "" {
		entry.ContentType = "application/octet-stream"
	}
	if err := v.repo.Upsert(ctx, entry); err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	vaultPutsTotal.Inc()
	v.refreshGauges(ctx)
	v.logger.Debug(ctx, "artifact stored", "artifact", artifactID, "bytes", size)
	return key, nil
}

// Get returns the blob path of artifactID and counts an access. A row whose
// blob vanished is dropped and reported as common.ErrNotFound.
func (v *Vault) Get(ctx context.Context, artifactID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.repo.Get(ctx, artifactID)
	if err != nil {
		return "", err
	}

	p := v.blobPath(e.StorageKey)
	if !filex.Exists(p) {
		v.logger.Warn(ctx, "blob missing, dropping index row", "artifact", artifactID, "path", p)
		if err := v.repo.Delete(ctx, artifactID); err != nil {
			return "", err
		}
		v.refreshGauges(ctx)
		return "", common.ErrNotFound
	}

	if err := v.repo.Touch(ctx, artifactID, v.now()); err != nil {
		return "", err
	}
	return p, nil
}

// Entry returns the index row without counting an access.
func (v *Vault) Entry(ctx context.Context, artifactID string) (*models.CacheEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.repo.Get(ctx, artifactID)
}

// Contains reports whether artifactID is resident with its blob on disk.
func (v *Vault) Contains(ctx context.Context, artifactID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.repo.Get(ctx, artifactID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return filex.Exists(v.blobPath(e.StorageKey)), nil
}

// Remove deletes the blob and its row. Missing blobs and rows are fine.
func (v *Vault) Remove(ctx context.Context, artifactID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.repo.Get(ctx, artifactID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := v.removeLocked(ctx, e); err != nil {
		return err
	}
	v.refreshGauges(ctx)
	return nil
}

// RemoveCourse removes every artifact of courseID and returns the count.
func (v *Vault) RemoveCourse(ctx context.Context, courseID string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n, _, err := v.removeCourseLocked(ctx, courseID)
	v.refreshGauges(ctx)
	return n, err
}

func (v *Vault) removeCourseLocked(ctx context.Context, courseID string) (int, int64, error) {
	entries, err := v.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return 0, 0, err
	}
	var freed int64
	for i, e := range entries {
		if err := v.removeLocked(ctx, e); err != nil {
			return i, freed, err
		}
		freed += e.ByteSize
	}
	return len(entries), freed, nil
}

func (v *Vault) removeLocked(ctx context.Context, e *models.CacheEntry) error {
	p := v.blobPath(e.StorageKey)
	if err := os.Remove(p); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove blob %s: %w", p, common.Classify(err))
		}
		v.logger.Warn(ctx, "blob already gone", "artifact", e.ArtifactID, "path", p)
	}
	return v.repo.Delete(ctx, e.ArtifactID)
}

func (v *Vault) Stats(ctx context.Context) (*models.CacheStats, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	st := &models.CacheStats{
		Capacity:      v.cfg.Capacity,
		ByContentType: map[string]models.ContentTypeStats{},
	}
	for _, e := range entries {
		st.TotalFiles++
		st.TotalBytes += e.ByteSize

		ct := st.ByContentType[e.ContentType]
		ct.Files++
		ct.Bytes += e.ByteSize
		st.ByContentType[e.ContentType] = ct

		if st.OldestEntry == nil || e.CreatedAt.Before(st.OldestEntry.CreatedAt) {
			st.OldestEntry = e
		}
		if st.MostAccessedEntry == nil || e.AccessCount > st.MostAccessedEntry.AccessCount {
			st.MostAccessedEntry = e
		}
	}
	return st, nil
}

func (v *Vault) refreshGauges(ctx context.Context) {
	total, err := v.repo.TotalSize(ctx)
	if err != nil {
		return
	}
	vaultBytes.Set(float64(total))
}
