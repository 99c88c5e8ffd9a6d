package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/client"
	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/vault"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/filex"
	"github.com/sethvargo/go-retry"
)

func (s *Scheduler) runTask(ctx context.Context, t *task, r *run) {
	err := s.execute(ctx, t, r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.gen != r.gen {
		// Paused, cancelled or restarted meanwhile; the caller already
		// moved the task on.
		return
	}

	delete(s.active, t.id)
	t.run = nil
	t.samples = nil

	switch {
	case err == nil:
		t.completedAt = s.now()
		s.setStatusLocked(t, models.StatusCompleted)
		s.logger.Info(ctx, "task completed", "task", t.id, "course", t.courseID, "failed_files", len(t.failures))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Scheduler shutdown: park the task so it can be resumed later.
		t.pauseReason = models.PauseManual
		t.pausedAt = s.now()
		s.setStatusLocked(t, models.StatusPaused)
	default:
		t.lastErr = err.Error()
		t.completedAt = s.now()
		s.setStatusLocked(t, models.StatusError)
		s.logger.Error(ctx, "task failed", "task", t.id, "course", t.courseID, "err", err)
	}

	s.dispatchLocked()
}

// transition moves the task to st unless the run has been superseded.
func (s *Scheduler) transition(t *task, r *run, st models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != r.gen {
		return errStale
	}
	s.setStatusLocked(t, st)
	return nil
}

func (s *Scheduler) execute(ctx context.Context, t *task, r *run) error {
	s.mu.Lock()
	resuming := t.status == models.StatusResuming
	workDir := t.workDir
	s.mu.Unlock()

	if _, err := filex.EnsureDir(workDir); err != nil {
		return common.Classify(err)
	}

	if !resuming {
		if err := s.transition(t, r, models.StatusPreparing); err != nil {
			return err
		}
		if err := s.transition(t, r, models.StatusCreatingPackage); err != nil {
			return err
		}
		s.refreshExpiring(ctx, t)
	}

	if err := s.transition(t, r, models.StatusDownloading); err != nil {
		return err
	}

	for {
		s.mu.Lock()
		if t.gen != r.gen {
			s.mu.Unlock()
			return errStale
		}
		if t.next >= len(t.files) {
			s.mu.Unlock()
			break
		}
		f := t.files[t.next]
		s.mu.Unlock()

		err := s.processFile(ctx, t, r, f)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errStale) {
				return ctx.Err()
			}
			if common.IsFatal(err) {
				filesTotal.WithLabelValues("fatal").Inc()
				return fmt.Errorf("file %s: %w", f.ID, err)
			}
			filesTotal.WithLabelValues("failed").Inc()
			s.logger.Warn(ctx, "file failed", "task", t.id, "file", f.ID, "err", err)
		}

		s.mu.Lock()
		if t.gen != r.gen {
			s.mu.Unlock()
			return errStale
		}
		if err != nil {
			t.failures = append(t.failures, models.FileFailure{FileID: f.ID, Err: err.Error(), At: s.now()})
			s.emitLocked(models.EventFile, t, f.ID, err.Error())
		} else {
			s.emitLocked(models.EventFile, t, f.ID, "")
		}
		t.completedBytes += f.Size
		t.currentBytes = 0
		t.next++
		s.mu.Unlock()
	}

	s.mu.Lock()
	clean := len(t.failures) == 0
	s.mu.Unlock()
	if clean {
		if err := os.RemoveAll(workDir); err != nil {
			s.logger.Warn(ctx, "failed to remove work dir", "dir", workDir, "err", err)
		}
	}
	return nil
}

// refreshExpiring renews, in one batch, every signed locator of the task
// that would expire before the transfers get to it. Failures are logged and
// left to the reactive refresh path.
func (s *Scheduler) refreshExpiring(ctx context.Context, t *task) {
	s.mu.Lock()
	now := s.now()
	var ids []string
	for _, f := range t.files[t.next:] {
		if f.Locator != "" && client.ExpiresWithin(f.Locator, now, s.cfg.RefreshMargin) {
			ids = append(ids, f.ID)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	refreshesTotal.Inc()
	fresh, err := s.transport.RefreshLocators(ctx, t.courseID, ids)
	if err != nil {
		s.logger.Warn(ctx, "proactive locator refresh failed", "task", t.id, "err", err)
		return
	}
	s.applyLocators(t, fresh)
	s.logger.Debug(ctx, "locators refreshed", "task", t.id, "count", len(fresh))
}

func (s *Scheduler) applyLocators(t *task, fresh map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range t.files {
		if loc, ok := fresh[t.files[i].ID]; ok {
			t.files[i].Locator = loc
		}
	}
}

func (s *Scheduler) refreshOne(ctx context.Context, t *task, fileID string) (string, error) {
	refreshesTotal.Inc()
	fresh, err := s.transport.RefreshLocators(ctx, t.courseID, []string{fileID})
	if err != nil {
		return "", err
	}
	loc, ok := fresh[fileID]
	if !ok || loc == "" {
		return "", fmt.Errorf("%w: no fresh locator for %s", common.ErrUnauthorized, fileID)
	}
	s.applyLocators(t, fresh)
	return loc, nil
}

func (s *Scheduler) backoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.BackoffBase)
	b = retry.WithCappedDuration(s.cfg.BackoffCap, b)
	return retry.WithMaxRetries(uint64(s.cfg.MaxRetries), b)
}

// processFile brings one file into the vault, retrying transient failures
// with capped exponential backoff. An expired locator is refreshed once
// outside of the retry budget; a refresh that fails transiently costs a
// retry like any other transient error.
func (s *Scheduler) processFile(ctx context.Context, t *task, r *run, f models.File) error {
	if !t.opts.Force {
		ok, err := s.store.Contains(ctx, f.ID)
		if err != nil {
			return err
		}
		if ok {
			filesTotal.WithLabelValues("skipped").Inc()
			return nil
		}
	}

	refreshed := false
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		if attempt > 0 {
			if err := s.transition(t, r, models.StatusDownloading); err != nil {
				return err
			}
		}
		attempt++

		for {
			err := s.transfer(ctx, t, r, f)
			if err == nil {
				return nil
			}
			if errors.Is(err, errStale) || ctx.Err() != nil {
				return err
			}

			if errors.Is(err, common.ErrLocatorExpired) && f.RequiresAuth && !refreshed {
				refreshed = true
				loc, rerr := s.refreshOne(ctx, t, f.ID)
				if rerr != nil {
					if !s.retryable(rerr) {
						return rerr
					}
					// Spend a retry and ask for a fresh locator again next time.
					refreshed = false
					if err := s.markRetrying(t, r); err != nil {
						return err
					}
					s.logger.Debug(ctx, "locator refresh failed, will retry", "task", t.id, "file", f.ID, "attempt", attempt, "err", rerr)
					return retry.RetryableError(rerr)
				}
				f.Locator = loc
				continue
			}

			if !s.retryable(err) {
				return err
			}
			if err := s.markRetrying(t, r); err != nil {
				return err
			}
			s.logger.Debug(ctx, "transfer failed, will retry", "task", t.id, "file", f.ID, "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return err
	}
	filesTotal.WithLabelValues("stored").Inc()
	return nil
}

func (s *Scheduler) retryable(err error) bool {
	return common.IsTransient(err) ||
		errors.Is(err, common.ErrLocatorExpired) ||
		errors.Is(err, common.ErrIntegrity)
}

func (s *Scheduler) markRetrying(t *task, r *run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != r.gen {
		return errStale
	}
	t.retryCount++
	retriesTotal.Inc()
	s.setStatusLocked(t, models.StatusRetrying)
	return nil
}

// addBytes accounts n freshly received bytes of the current file. Progress
// events are throttled to a few per second.
func (s *Scheduler) addBytes(t *task, r *run, current int64, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != r.gen {
		return errStale
	}
	if n > 0 {
		bytesTotal.Add(float64(n))
	}
	t.currentBytes = current
	now := s.now()
	t.addSample(now)
	if now.Sub(t.lastEmit) >= progressInterval {
		t.lastEmit = now
		s.emitLocked(models.EventProgress, t, "", "")
	}
	return nil
}

const progressInterval = 250 * time.Millisecond

func (s *Scheduler) putMeta(t *task, f models.File, layout, compression string) vault.PutMeta {
	priority := f.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	return vault.PutMeta{
		OriginalPath: f.Name,
		ContentType:  f.ContentType,
		Layout:       layout,
		Priority:     priority,
		CourseID:     t.courseID,
		LessonID:     f.LessonID,
		Compression:  compression,
		Replace:      t.opts.Force,
	}
}
