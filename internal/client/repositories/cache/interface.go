// Package cache persists the vault index: one row per cached artifact.
//
// # Overview
//
// Repository is the contract the vault uses; SQLiteRepository implements it
// over a dbx.DBTX, so the same code runs against *sql.DB or inside a
// transaction. Timestamps are stored as Unix milliseconds.
//
// See also: internal/client/models.CacheEntry for field semantics.
package cache

import (
	"context"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
)

// Repository describes the index operations of the vault.
type Repository interface {
	// Get returns the row for artifactID or common.ErrNotFound.
	Get(ctx context.Context, artifactID string) (*models.CacheEntry, error)

	// Upsert inserts the row or replaces the existing one for the same artifact.
	Upsert(ctx context.Context, e *models.CacheEntry) error

	// Touch bumps access_count and sets last_accessed_at.
	Touch(ctx context.Context, artifactID string, at time.Time) error

	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, artifactID string) error

	// List returns every row.
	List(ctx context.Context) ([]*models.CacheEntry, error)

	// ListByCourse returns the rows belonging to a course.
	ListByCourse(ctx context.Context, courseID string) ([]*models.CacheEntry, error)

	// ListAged returns rows untouched since before and with priority below floor.
	ListAged(ctx context.Context, before time.Time, floor int) ([]*models.CacheEntry, error)

	// CourseIDs returns the distinct non-empty course ids present in the index.
	CourseIDs(ctx context.Context) ([]string, error)

	// TotalSize is the sum of byte_size over all rows.
	TotalSize(ctx context.Context) (int64, error)
}
