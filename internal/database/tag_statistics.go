package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/smart-tagger/internal/models"
)

// ErrStatisticsNotFound is returned when a project has no statistics row
var ErrStatisticsNotFound = errors.New("tag statistics not found")

// TagStatisticsRepository handles tag statistics database operations
type TagStatisticsRepository struct {
	db *DB
}

// NewTagStatisticsRepository creates a new tag statistics repository
func NewTagStatisticsRepository(db *DB) *TagStatisticsRepository {
	return &TagStatisticsRepository{db: db}
}

// GetByProject retrieves tag statistics for a project
func (r *TagStatisticsRepository) GetByProject(ctx context.Context, projectPath string) (*models.TagStatistics, error) {
	stats := &models.TagStatistics{}
	var tagCountsJSON []byte
	var lastAnalyzedAt sql.NullTime

	query := `
		SELECT project_path, tag_counts, asset_count, tainted, last_analyzed_at, analysis_version, created_at, updated_at
		FROM tag_statistics
		WHERE project_path = $1
	`

	err := r.db.QueryRowContext(ctx, query, projectPath).Scan(
		&stats.ProjectPath,
		&tagCountsJSON,
		&stats.AssetCount,
		&stats.Tainted,
		&lastAnalyzedAt,
		&stats.AnalysisVersion,
		&stats.CreatedAt,
		&stats.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", projectPath, ErrStatisticsNotFound)
		}
		return nil, fmt.Errorf("failed to get tag statistics: %w", err)
	}

	stats.TagCounts = make(map[string]int)
	if len(tagCountsJSON) > 0 {
		if err := json.Unmarshal(tagCountsJSON, &stats.TagCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tag_counts: %w", err)
		}
	}

	if lastAnalyzedAt.Valid {
		stats.LastAnalyzedAt = &lastAnalyzedAt.Time
	}

	return stats, nil
}

// GetByProjectOrCreate retrieves tag statistics or creates a tainted record if not found
func (r *TagStatisticsRepository) GetByProjectOrCreate(ctx context.Context, projectPath string) (*models.TagStatistics, error) {
	stats, err := r.GetByProject(ctx, projectPath)
	if err == nil {
		return stats, nil
	}
	if !errors.Is(err, ErrStatisticsNotFound) {
		return nil, err
	}

	stats = &models.TagStatistics{
		ProjectPath: projectPath,
		TagCounts:   make(map[string]int),
		Tainted:     true,
	}

	// Upsert covers a row created between the lookup and this insert
	if err := r.Upsert(ctx, stats); err != nil {
		return nil, fmt.Errorf("failed to create tag statistics: %w", err)
	}

	return r.GetByProject(ctx, projectPath)
}

// UpdateStatistics atomically replaces the counts with a version check.
// Returns false when another analysis won the race.
func (r *TagStatisticsRepository) UpdateStatistics(ctx context.Context, stats *models.TagStatistics) (bool, error) {
	query := `
		UPDATE tag_statistics
		SET tag_counts = $1, asset_count = $2, tainted = false, last_analyzed_at = $3,
		    analysis_version = analysis_version + 1, updated_at = $3
		WHERE project_path = $4 AND analysis_version = $5
		RETURNING analysis_version, created_at, updated_at
	`

	tagCountsJSON, err := json.Marshal(stats.TagCounts)
	if err != nil {
		return false, fmt.Errorf("failed to marshal tag_counts: %w", err)
	}

	now := time.Now()
	var newVersion int
	err = r.db.QueryRowContext(ctx, query,
		tagCountsJSON,
		stats.AssetCount,
		now,
		stats.ProjectPath,
		stats.AnalysisVersion,
	).Scan(&newVersion, &stats.CreatedAt, &stats.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update tag statistics: %w", err)
	}

	stats.AnalysisVersion = newVersion
	stats.Tainted = false
	stats.LastAnalyzedAt = &now

	return true, nil
}

// MarkTainted flags a project's statistics as stale, creating the row if
// needed. Returns true only on a clean to tainted transition.
func (r *TagStatisticsRepository) MarkTainted(ctx context.Context, projectPath string) (bool, error) {
	query := `
		INSERT INTO tag_statistics (project_path, tag_counts, tainted, analysis_version, created_at, updated_at)
		VALUES ($1, '{}', true, 0, $2, $2)
		ON CONFLICT (project_path) DO UPDATE
		SET tainted = true, updated_at = $2
		WHERE tag_statistics.tainted = false
		RETURNING project_path
	`

	var resultPath string
	err := r.db.QueryRowContext(ctx, query, projectPath, time.Now()).Scan(&resultPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already tainted
			return false, nil
		}
		return false, fmt.Errorf("failed to mark tainted: %w", err)
	}

	return true, nil
}

// Upsert creates or updates tag statistics
func (r *TagStatisticsRepository) Upsert(ctx context.Context, stats *models.TagStatistics) error {
	query := `
		INSERT INTO tag_statistics (project_path, tag_counts, asset_count, tainted, last_analyzed_at, analysis_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (project_path) DO UPDATE
		SET tag_counts = EXCLUDED.tag_counts,
		    asset_count = EXCLUDED.asset_count,
		    tainted = EXCLUDED.tainted,
		    last_analyzed_at = EXCLUDED.last_analyzed_at,
		    analysis_version = EXCLUDED.analysis_version,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	tagCountsJSON, err := json.Marshal(stats.TagCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal tag_counts: %w", err)
	}

	var lastAnalyzedAt sql.NullTime
	if stats.LastAnalyzedAt != nil {
		lastAnalyzedAt = sql.NullTime{Time: *stats.LastAnalyzedAt, Valid: true}
	}

	err = r.db.QueryRowContext(ctx, query,
		stats.ProjectPath,
		tagCountsJSON,
		stats.AssetCount,
		stats.Tainted,
		lastAnalyzedAt,
		stats.AnalysisVersion,
		time.Now(),
	).Scan(&stats.CreatedAt, &stats.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert tag statistics: %w", err)
	}

	return nil
}
