// Package courses mirrors the upstream course catalogue locally. The vault
// sweep consults it to drop artifacts of courses that no longer exist.
package courses

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

type Repository interface {
	Upsert(ctx context.Context, c *models.Course) error
	Get(ctx context.Context, id string) (*models.Course, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Course, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, c *models.Course) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, title, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at
	`, c.ID, c.Title, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert course %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Course, error) {
	c := &models.Course{}
	var updated int64
	err := r.db.QueryRowContext(ctx, `SELECT id, title, updated_at FROM courses WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course %s: %w", id, err)
	}
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete course %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Course, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, updated_at FROM courses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var result []*models.Course
	for rows.Next() {
		c := &models.Course{}
		var updated int64
		if err := rows.Scan(&c.ID, &c.Title, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan course row: %w", err)
		}
		c.UpdatedAt = time.UnixMilli(updated).UTC()
		result = append(result, c)
	}
	return result, rows.Err()
}
