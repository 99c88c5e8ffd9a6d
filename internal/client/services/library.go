package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/manifest"
	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/courses"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/cryptox"
	"github.com/dmitrijs2005/coursekeeper/internal/logging"
	"github.com/klauspost/compress/zstd"
)

// Downloader is the part of the fetch scheduler the library drives.
type Downloader interface {
	Enqueue(ctx context.Context, courseID string, files []models.File, opts models.EnqueueOptions) (string, error)
	CancelCourse(courseID string) error
	Subscribe(buffer int) (<-chan models.TaskEvent, func())
}

// Store is the part of the vault the library reads from.
type Store interface {
	Get(ctx context.Context, artifactID string) (string, error)
	Entry(ctx context.Context, artifactID string) (*models.CacheEntry, error)
	RemoveCourse(ctx context.Context, courseID string) (int, error)
}

// Player opens stream sessions.
type Player interface {
	OpenSession(blobPath, contentType, layout string) (string, error)
}

// Library ties the scheduler, the vault and the stream server together
// behind the operations the CLI offers.
type Library struct {
	downloader Downloader
	store      Store
	player     Player
	courses    courses.Repository
	outbox     outbox.Repository
	atomicKey  []byte
	logger     logging.Logger
	now        func() time.Time
}

func NewLibrary(d Downloader, store Store, player Player, cr courses.Repository, ob outbox.Repository, atomicKey []byte, logger logging.Logger) *Library {
	return &Library{
		downloader: d,
		store:      store,
		player:     player,
		courses:    cr,
		outbox:     ob,
		atomicKey:  atomicKey,
		logger:     logger.With("component", "library"),
		now:        time.Now,
	}
}

// Download records the course locally and queues its files. The course row
// goes in first so a maintenance sweep never mistakes fresh blobs for
// leftovers of a removed course.
func (l *Library) Download(ctx context.Context, m *manifest.Manifest, opts models.EnqueueOptions) (string, error) {
	if err := l.courses.Upsert(ctx, &models.Course{ID: m.CourseID, Title: m.Title, UpdatedAt: l.now()}); err != nil {
		return "", err
	}

	if opts.Title == "" {
		opts.Title = m.Title
	}
	if opts.Priority == 0 {
		opts.Priority = m.Priority
	}
	return l.downloader.Enqueue(ctx, m.CourseID, m.Files, opts)
}

// Play opens a stream session for a cached artifact and returns its URL.
func (l *Library) Play(ctx context.Context, artifactID string) (string, error) {
	entry, err := l.store.Entry(ctx, artifactID)
	if err != nil {
		return "", fmt.Errorf("artifact %s: %w", artifactID, err)
	}
	path, err := l.store.Get(ctx, artifactID)
	if err != nil {
		return "", fmt.Errorf("artifact %s: %w", artifactID, err)
	}
	return l.player.OpenSession(path, entry.ContentType, entry.Layout)
}

// ReadText returns the verified plaintext of an atomic artifact,
// decompressed when it was stored compressed.
func (l *Library) ReadText(ctx context.Context, artifactID string) ([]byte, error) {
	entry, err := l.store.Entry(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", artifactID, err)
	}
	if entry.Layout != models.LayoutAtomic {
		return nil, fmt.Errorf("artifact %s is %s media, play it instead", artifactID, entry.Layout)
	}

	path, err := l.store.Get(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", artifactID, err)
	}
	plain, err := cryptox.OpenFile(path, l.atomicKey)
	if err != nil {
		return nil, err
	}
	switch entry.Compression {
	case "":
		return plain, nil
	case models.CompressionZstd:
		return decompress(artifactID, plain)
	default:
		return nil, fmt.Errorf("artifact %s: unknown compression %q", artifactID, entry.Compression)
	}
}

func decompress(artifactID string, plain []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(plain, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %w", common.ErrIntegrity, artifactID, err)
	}
	return out, nil
}

type courseEvent struct {
	CourseID string   `json:"course_id"`
	TaskID   string   `json:"task_id,omitempty"`
	Files    []string `json:"files,omitempty"`
	Removed  int      `json:"removed,omitempty"`
	At       int64    `json:"at"`
}

// RemoveCourse stops any download of the course, drops every cached
// artifact of it, forgets the course and records the removal in the sync
// outbox.
func (l *Library) RemoveCourse(ctx context.Context, courseID string) (int, error) {
	if err := l.downloader.CancelCourse(courseID); err != nil {
		return 0, fmt.Errorf("cancel download of %s: %w", courseID, err)
	}
	n, err := l.store.RemoveCourse(ctx, courseID)
	if err != nil {
		return n, err
	}
	if err := l.courses.Delete(ctx, courseID); err != nil {
		return n, err
	}

	payload, err := json.Marshal(courseEvent{CourseID: courseID, Removed: n, At: l.now().UnixMilli()})
	if err != nil {
		return n, err
	}
	if _, err := l.outbox.Add(ctx, models.SyncCourseRemoved, payload); err != nil {
		return n, err
	}
	l.logger.Info(ctx, "course removed", "course", courseID, "artifacts", n)
	return n, nil
}

// WatchCompletions appends a course_downloaded outbox record for every task
// that completes without failed files. It returns when ctx is done.
func (l *Library) WatchCompletions(ctx context.Context) error {
	events, unsubscribe := l.downloader.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != models.EventStatus || ev.Task.Status != models.StatusCompleted || len(ev.Task.Failures) > 0 {
				continue
			}
			if err := l.recordDownloaded(ctx, ev.Task); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				l.logger.Error(ctx, "failed to record completion", "task", ev.Task.ID, "err", err)
			}
		}
	}
}

func (l *Library) recordDownloaded(ctx context.Context, t models.Task) error {
	ids := make([]string, len(t.Files))
	for i, f := range t.Files {
		ids[i] = f.ID
	}
	payload, err := json.Marshal(courseEvent{
		CourseID: t.CourseID,
		TaskID:   t.ID,
		Files:    ids,
		At:       t.CompletedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, err = l.outbox.Add(ctx, models.SyncCourseDownloaded, payload)
	return err
}
