package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/coursekeeper/internal/client/migrations"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/courses"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/coursekeeper/internal/dbx"
	"github.com/pressly/goose/v3"
)

type Repositories struct {
	DB       *sql.DB
	Metadata metadata.Repository
	Cache    cache.Repository
	Courses  courses.Repository
	Outbox   outbox.Repository
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the local index at dsn and brings its schema up to date.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := dbx.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dsn, err)
	}

	return db, nil
}

func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		DB:       db,
		Metadata: metadata.NewSQLiteRepository(db),
		Cache:    cache.NewSQLiteRepository(db),
		Courses:  courses.NewSQLiteRepository(db),
		Outbox:   outbox.NewSQLiteRepository(db),
	}
}
