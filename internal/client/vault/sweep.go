package vault

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/filex"
)

// Sweep runs one maintenance pass:
//  1. blobs on disk without an index row are deleted;
//  2. rows whose blob is gone, or whose course no longer exists, are
//     dropped;
//  3. entries untouched for longer than EvictionAge with priority below
//     PriorityFloor are removed.
//
// Per-item failures are counted in SweepResult.Errors and do not stop the
// pass.
func (v *Vault) Sweep(ctx context.Context) (*models.SweepResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	res := &models.SweepResult{}

	if err := v.sweepOrphansLocked(ctx, res); err != nil {
		return nil, err
	}
	if err := v.sweepStaleLocked(ctx, res); err != nil {
		return nil, err
	}
	if err := v.sweepAgedLocked(ctx, res); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(res.Duration.Seconds())
	sweepRemovedTotal.WithLabelValues("orphan").Add(float64(res.Orphans))
	sweepRemovedTotal.WithLabelValues("stale").Add(float64(res.Stale))
	sweepRemovedTotal.WithLabelValues("aged").Add(float64(res.Aged))
	v.refreshGauges(ctx)

	v.logger.Info(ctx, "sweep finished",
		"orphans", res.Orphans,
		"stale", res.Stale,
		"aged", res.Aged,
		"errors", res.Errors,
		"freed", res.FreedSize,
		"duration", res.Duration,
	)
	return res, nil
}

func (v *Vault) sweepOrphansLocked(ctx context.Context, res *models.SweepResult) error {
	entries, err := v.repo.List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.StorageKey] = true
	}

	return filepath.WalkDir(v.cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			v.logger.Warn(ctx, "sweep walk error", "path", p, "err", err)
			res.Errors++
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || known[d.Name()] {
			return nil
		}

		size, _ := filex.Size(p)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			v.logger.Error(ctx, "failed to remove orphan", "path", p, "err", err)
			res.Errors++
			return nil
		}
		res.Orphans++
		res.FreedSize += size
		v.logger.Debug(ctx, "removed orphan blob", "path", p)
		return nil
	})
}

func (v *Vault) sweepStaleLocked(ctx context.Context, res *models.SweepResult) error {
	entries, err := v.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filex.Exists(v.blobPath(e.StorageKey)) {
			continue
		}
		if err := v.repo.Delete(ctx, e.ArtifactID); err != nil {
			res.Errors++
			continue
		}
		res.Stale++
	}

	if v.courses == nil {
		return nil
	}
	ids, err := v.repo.CourseIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		ok, err := v.courses.Exists(ctx, id)
		if err != nil {
			v.logger.Warn(ctx, "course lookup failed", "course", id, "err", err)
			res.Errors++
			continue
		}
		if ok {
			continue
		}
		n, freed, err := v.removeCourseLocked(ctx, id)
		res.Stale += n
		res.FreedSize += freed
		if err != nil {
			v.logger.Error(ctx, "failed to remove stale course", "course", id, "err", err)
			res.Errors++
		}
	}
	return nil
}

func (v *Vault) sweepAgedLocked(ctx context.Context, res *models.SweepResult) error {
	before := v.now().Add(-v.cfg.EvictionAge)
	aged, err := v.repo.ListAged(ctx, before, v.cfg.PriorityFloor)
	if err != nil {
		return err
	}
	for _, e := range aged {
		if err := v.removeLocked(ctx, e); err != nil {
			v.logger.Error(ctx, "failed to remove aged entry", "artifact", e.ArtifactID, "err", err)
			res.Errors++
			continue
		}
		res.Aged++
		res.FreedSize += e.ByteSize
	}
	return nil
}
