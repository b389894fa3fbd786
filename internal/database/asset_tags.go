package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/lib/pq"
)

// AssetTagRepository stores asset tag lists in the asset_tags table
type AssetTagRepository struct {
	db *DB
}

// NewAssetTagRepository creates a new asset tag repository
func NewAssetTagRepository(db *DB) *AssetTagRepository {
	return &AssetTagRepository{db: db}
}

// ListAssets returns the asset ids registered for a project, sorted
func (r *AssetTagRepository) ListAssets(ctx context.Context, projectPath string) ([]string, error) {
	query := `
		SELECT asset_id
		FROM asset_tags
		WHERE project_path = $1
		ORDER BY asset_id
	`

	rows, err := r.db.QueryContext(ctx, query, projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return ids, nil
}

// LoadTags returns the stored tag list for one asset
func (r *AssetTagRepository) LoadTags(ctx context.Context, projectPath, assetID string) ([]string, error) {
	query := `
		SELECT tags
		FROM asset_tags
		WHERE project_path = $1 AND asset_id = $2
	`

	var tags []string
	err := r.db.QueryRowContext(ctx, query, projectPath, assetID).Scan(pq.Array(&tags))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", assetID, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}

	return tags, nil
}

// SaveTags replaces the tag list for one asset, creating the row if needed
func (r *AssetTagRepository) SaveTags(ctx context.Context, projectPath, assetID string, tags []string) error {
	query := `
		INSERT INTO asset_tags (project_path, asset_id, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (project_path, asset_id) DO UPDATE
		SET tags = EXCLUDED.tags,
		    updated_at = EXCLUDED.updated_at
	`

	if tags == nil {
		tags = []string{}
	}
	if _, err := r.db.ExecContext(ctx, query, projectPath, assetID, pq.Array(tags), time.Now()); err != nil {
		return fmt.Errorf("failed to save tags: %w", err)
	}

	return nil
}

// ImportAssets registers assets with their tags in one transaction. Used by
// tagctl to seed the database from another backend.
func (r *AssetTagRepository) ImportAssets(ctx context.Context, projectPath string, assets map[string][]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}

	query := `
		INSERT INTO asset_tags (project_path, asset_id, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (project_path, asset_id) DO UPDATE
		SET tags = EXCLUDED.tags,
		    updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	for id, tags := range assets {
		if tags == nil {
			tags = []string{}
		}
		if _, err := tx.ExecContext(ctx, query, projectPath, id, pq.Array(tags), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to import %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}
