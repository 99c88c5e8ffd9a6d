package models

import "time"

// TaskStatus is the lifecycle state of a download task.
type TaskStatus string

const (
	StatusQueued          TaskStatus = "queued"
	StatusStarting        TaskStatus = "starting"
	StatusPreparing       TaskStatus = "preparing"
	StatusCreatingPackage TaskStatus = "creating-package"
	StatusDownloading     TaskStatus = "downloading"
	StatusCompressing     TaskStatus = "compressing"
	StatusCompleted       TaskStatus = "completed"
	StatusPaused          TaskStatus = "paused"
	StatusRetrying        TaskStatus = "retrying"
	StatusResuming        TaskStatus = "resuming"
	StatusError           TaskStatus = "error"
	StatusCancelled       TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions happen without a manual
// retry.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether a task in this state holds a concurrency slot.
func (s TaskStatus) Active() bool {
	switch s {
	case StatusStarting, StatusPreparing, StatusCreatingPackage, StatusDownloading,
		StatusCompressing, StatusRetrying, StatusResuming:
		return true
	}
	return false
}

// PauseReason tells manual pauses apart from connectivity pauses.
type PauseReason string

const (
	PauseNone         PauseReason = ""
	PauseManual       PauseReason = "manual"
	PauseConnectivity PauseReason = "connectivity"
)

// EnqueueOptions tune a new download task.
type EnqueueOptions struct {
	Title    string
	Priority int
	// Force re-downloads a course whose files are all present already.
	Force bool
	// Compress zstd-compresses text artifacts before sealing.
	Compress bool
}

// FileFailure records a file that did not make it into the vault.
type FileFailure struct {
	FileID string
	Err    string
	At     time.Time
}

// Task is a point-in-time snapshot of a download task.
type Task struct {
	ID       string
	CourseID string
	Title    string
	Files    []File

	Status      TaskStatus
	PauseReason PauseReason
	Priority    int

	Progress        float64
	DownloadedBytes int64
	TotalBytes      int64
	CurrentFile     int
	RetryCount      int
	Failures        []FileFailure
	LastError       string

	CreatedAt   time.Time
	StartedAt   time.Time
	PausedAt    time.Time
	CompletedAt time.Time

	// SpeedBps is the mean of the recent speed samples, ETA derives from it.
	SpeedBps float64
	ETA      time.Duration
}

// EventKind classifies scheduler notifications.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
	EventFile     EventKind = "file"
	EventRemoved  EventKind = "removed"
)

// TaskEvent is delivered to scheduler subscribers.
type TaskEvent struct {
	Kind EventKind
	Task Task
	// FileID is set for EventFile.
	FileID string
	Err    string
}
