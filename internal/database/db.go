package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	*sql.DB
}

// New opens a PostgreSQL connection pool and verifies it with a ping
func New(databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

// schema is applied by EnsureSchema. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS asset_tags (
		project_path TEXT NOT NULL,
		asset_id     TEXT NOT NULL,
		tags         TEXT[] NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (project_path, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tag_statistics (
		project_path     TEXT PRIMARY KEY,
		tag_counts       JSONB NOT NULL DEFAULT '{}',
		asset_count      INTEGER NOT NULL DEFAULT 0,
		tainted          BOOLEAN NOT NULL DEFAULT true,
		last_analyzed_at TIMESTAMPTZ,
		analysis_version INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables used by the postgres backend
func (db *DB) EnsureSchema(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
