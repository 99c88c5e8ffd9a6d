package models

import "time"

// Course mirrors the upstream catalogue row the client knows about. The
// vault sweep drops cached artifacts whose course is gone.
type Course struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// SyncItem is one durable outbox record waiting to be pushed upstream.
type SyncItem struct {
	ID        int64
	Kind      string
	Payload   []byte
	CreatedAt time.Time
	SyncedAt  *time.Time
}

// Outbox kinds.
const (
	SyncCourseDownloaded = "course_downloaded"
	SyncCourseRemoved    = "course_removed"
)
