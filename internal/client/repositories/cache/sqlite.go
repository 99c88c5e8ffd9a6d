package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/dbx"
)

const entryColumns = `artifact_id, storage_key, original_path, byte_size, content_type, layout,
	created_at, last_accessed_at, access_count, priority, course_id, lesson_id, compression`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.CacheEntry, error) {
	e := &models.CacheEntry{}
	var created, accessed int64
	err := s.Scan(&e.ArtifactID, &e.StorageKey, &e.OriginalPath, &e.ByteSize, &e.ContentType, &e.Layout,
		&created, &accessed, &e.AccessCount, &e.Priority, &e.CourseID, &e.LessonID, &e.Compression)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.LastAccessedAt = time.UnixMilli(accessed).UTC()
	return e, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, artifactID string) (*models.CacheEntry, error) {
	query := `select ` + entryColumns + ` from cache_entries where artifact_id=?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, artifactID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %s: %w", artifactID, err)
	}
	return e, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.CacheEntry) error {
	query := `INSERT INTO cache_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET
			storage_key = excluded.storage_key,
			original_path = excluded.original_path,
			byte_size = excluded.byte_size,
			content_type = excluded.content_type,
			layout = excluded.layout,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			priority = excluded.priority,
			course_id = excluded.course_id,
			lesson_id = excluded.lesson_id,
			compression = excluded.compression`

	_, err := r.db.ExecContext(ctx, query,
		e.ArtifactID, e.StorageKey, e.OriginalPath, e.ByteSize, e.ContentType, e.Layout,
		e.CreatedAt.UnixMilli(), e.LastAccessedAt.UnixMilli(), e.AccessCount, e.Priority,
		e.CourseID, e.LessonID, e.Compression)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry %s: %w", e.ArtifactID, err)
	}
	return nil
}

func (r *SQLiteRepository) Touch(ctx context.Context, artifactID string, at time.Time) error {
	query := `update cache_entries set access_count = access_count + 1, last_accessed_at = ? where artifact_id = ?`
	result, err := r.db.ExecContext(ctx, query, at.UnixMilli(), artifactID)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry %s: %w", artifactID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, artifactID string) error {
	_, err := r.db.ExecContext(ctx, `delete from cache_entries where artifact_id = ?`, artifactID)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", artifactID, err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting cache entries: %w", err)
	}
	defer rows.Close()

	var result []*models.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.CacheEntry, error) {
	return r.list(ctx, `select `+entryColumns+` from cache_entries order by created_at, artifact_id`)
}

func (r *SQLiteRepository) ListByCourse(ctx context.Context, courseID string) ([]*models.CacheEntry, error) {
	return r.list(ctx, `select `+entryColumns+` from cache_entries where course_id = ? order by artifact_id`, courseID)
}

func (r *SQLiteRepository) ListAged(ctx context.Context, before time.Time, floor int) ([]*models.CacheEntry, error) {
	return r.list(ctx, `select `+entryColumns+` from cache_entries
		where last_accessed_at < ? and priority < ? order by last_accessed_at`, before.UnixMilli(), floor)
}

func (r *SQLiteRepository) CourseIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `select distinct course_id from cache_entries where course_id <> '' order by course_id`)
	if err != nil {
		return nil, fmt.Errorf("error selecting course ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `select coalesce(sum(byte_size), 0) from cache_entries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cache size: %w", err)
	}
	return total, nil
}
