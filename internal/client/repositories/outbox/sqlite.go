// Package outbox is the durable, append-only sync queue. Local events are
// recorded here and pushed upstream by whoever drains GetUnsynced.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/dbx"
)

type Repository interface {
	Add(ctx context.Context, kind string, payload []byte) (int64, error)
	GetUnsynced(ctx context.Context, limit int) ([]models.SyncItem, error)
	MarkSynced(ctx context.Context, ids ...int64) error
}

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Add(ctx context.Context, kind string, payload []byte) (int64, error) {
	if payload == nil {
		payload = []byte{}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_queue (kind, payload, created_at) VALUES (?, ?, ?)`,
		kind, payload, r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to add to sync queue: %w", err)
	}
	return res.LastInsertId()
}

// GetUnsynced returns pending items oldest first. limit <= 0 means no limit.
func (r *SQLiteRepository) GetUnsynced(ctx context.Context, limit int) ([]models.SyncItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, payload, created_at FROM sync_queue WHERE synced_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select unsynced items: %w", err)
	}
	defer rows.Close()

	var items []models.SyncItem
	for rows.Next() {
		var it models.SyncItem
		var created int64
		if err := rows.Scan(&it.ID, &it.Kind, &it.Payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan sync item: %w", err)
		}
		it.CreatedAt = time.UnixMilli(created).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, r.now().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET synced_at = ? WHERE synced_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark items synced: %w", err)
	}
	return nil
}
