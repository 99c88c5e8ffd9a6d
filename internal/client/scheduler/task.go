package scheduler

import (
	"context"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
)

const (
	speedWindow    = 10 * time.Second
	maxSpeedPoints = 32
)

// run is one execution of a task. A task gets a new run every time it is
// started or resumed; gen tells the current run apart from stale ones.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64
}

type sample struct {
	at    time.Time
	bytes int64
}

type task struct {
	id       string
	courseID string
	title    string
	files    []models.File
	opts     models.EnqueueOptions
	workDir  string

	priority    int
	seq         uint64
	heapIndex   int
	status      models.TaskStatus
	pauseReason models.PauseReason

	// next is the index of the first file not yet processed.
	next           int
	completedBytes int64
	currentBytes   int64
	totalBytes     int64
	retryCount     int
	failures       []models.FileFailure
	lastErr        string

	createdAt   time.Time
	startedAt   time.Time
	pausedAt    time.Time
	completedAt time.Time

	run      *run
	gen      uint64
	samples  []sample
	lastEmit time.Time
}

func (t *task) downloaded() int64 {
	return t.completedBytes + t.currentBytes
}

func (t *task) progress() float64 {
	if t.status == models.StatusCompleted {
		return 100
	}
	if t.totalBytes > 0 {
		p := float64(t.downloaded()) / float64(t.totalBytes) * 100
		if p > 100 {
			p = 100
		}
		return p
	}
	if len(t.files) == 0 {
		return 0
	}
	return float64(t.next) / float64(len(t.files)) * 100
}

func (t *task) addSample(now time.Time) {
	t.samples = append(t.samples, sample{at: now, bytes: t.downloaded()})

	cut := 0
	for cut < len(t.samples)-2 && now.Sub(t.samples[cut].at) > speedWindow {
		cut++
	}
	if over := len(t.samples) - cut - maxSpeedPoints; over > 0 {
		cut += over
	}
	t.samples = t.samples[cut:]
}

// speed is the mean rate over the sample window in bytes per second.
func (t *task) speed() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	first, last := t.samples[0], t.samples[len(t.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / dt
}

func (t *task) snapshot() models.Task {
	files := make([]models.File, len(t.files))
	copy(files, t.files)
	failures := make([]models.FileFailure, len(t.failures))
	copy(failures, t.failures)

	s := models.Task{
		ID:              t.id,
		CourseID:        t.courseID,
		Title:           t.title,
		Files:           files,
		Status:          t.status,
		PauseReason:     t.pauseReason,
		Priority:        t.priority,
		Progress:        t.progress(),
		DownloadedBytes: t.downloaded(),
		TotalBytes:      t.totalBytes,
		CurrentFile:     t.next,
		RetryCount:      t.retryCount,
		Failures:        failures,
		LastError:       t.lastErr,
		CreatedAt:       t.createdAt,
		StartedAt:       t.startedAt,
		PausedAt:        t.pausedAt,
		CompletedAt:     t.completedAt,
	}

	if t.status.Active() {
		s.SpeedBps = t.speed()
		if remaining := t.totalBytes - t.downloaded(); s.SpeedBps > 0 && remaining > 0 {
			s.ETA = time.Duration(float64(remaining) / s.SpeedBps * float64(time.Second))
		}
	}
	return s
}
