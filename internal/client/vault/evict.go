package vault

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
)

// Score ranks an entry for eviction; the lowest score goes first. Priority
// and access count protect an entry, age since last access and size wear
// the protection down.
func Score(e *models.CacheEntry, now time.Time) float64 {
	ageHours := now.Sub(e.LastAccessedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	sizeMB := float64(e.ByteSize) / (1024 * 1024)
	return float64(e.Priority)*100 + float64(e.AccessCount)*10 - ageHours - sizeMB*0.1
}

// evictLocked removes the lowest scored entries until at least need bytes
// are freed, and not one entry more.
func (v *Vault) evictLocked(ctx context.Context, need int64, now time.Time) (int64, error) {
	entries, err := v.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := Score(entries[i], now), Score(entries[j], now)
		if si != sj {
			return si < sj
		}
		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})

	var freed int64
	for _, e := range entries {
		if freed >= need {
			break
		}
		if err := v.removeLocked(ctx, e); err != nil {
			return freed, err
		}
		freed += e.ByteSize
		vaultEvictionsTotal.Inc()
		v.logger.Info(ctx, "evicted artifact", "artifact", e.ArtifactID, "bytes", e.ByteSize,
			"score", Score(e, now))
	}

	if freed < need {
		return freed, fmt.Errorf("%w: freed %d of %d bytes", common.ErrCapacity, freed, need)
	}
	return freed, nil
}
