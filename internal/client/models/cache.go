package models

import "time"

// Blob layouts as persisted in the index.
const (
	LayoutAtomic = "atomic"
	LayoutStream = "stream"
)

// CompressionZstd marks a plaintext that was zstd-compressed before sealing.
const CompressionZstd = "zstd"

// CacheEntry is the persisted index row of one artifact held by the vault.
type CacheEntry struct {
	// ArtifactID is the opaque identity the caller uses.
	ArtifactID string

	// StorageKey is hex(blake3(ArtifactID)); it names the blob on disk.
	StorageKey string

	// OriginalPath is the logical path inside the course.
	OriginalPath string

	// ByteSize is the size of the blob on disk, header and trailer included.
	ByteSize int64

	ContentType string

	// Layout is LayoutAtomic or LayoutStream.
	Layout string

	// Compression is empty or CompressionZstd.
	Compression string

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64

	// Priority is 1..10; higher resists eviction.
	Priority int

	CourseID string
	LessonID string
}

// ContentTypeStats aggregates entries sharing a content type.
type ContentTypeStats struct {
	Files int
	Bytes int64
}

// CacheStats summarizes the vault.
type CacheStats struct {
	TotalFiles        int
	TotalBytes        int64
	Capacity          int64
	ByContentType     map[string]ContentTypeStats
	OldestEntry       *CacheEntry
	MostAccessedEntry *CacheEntry
}

// SweepResult reports what one maintenance sweep removed.
type SweepResult struct {
	Orphans   int
	Stale     int
	Aged      int
	Errors    int
	Duration  time.Duration
	FreedSize int64
}
