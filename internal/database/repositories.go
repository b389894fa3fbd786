package database

import (
	"context"

	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/persistence"
)

// TagStatisticsRepositoryInterface defines the tag statistics operations used by workers and handlers
// This interface enables better testability by allowing mock implementations
type TagStatisticsRepositoryInterface interface {
	GetByProject(ctx context.Context, projectPath string) (*models.TagStatistics, error)
	GetByProjectOrCreate(ctx context.Context, projectPath string) (*models.TagStatistics, error)
	UpdateStatistics(ctx context.Context, stats *models.TagStatistics) (bool, error)
	MarkTainted(ctx context.Context, projectPath string) (bool, error)
}

// Ensure concrete types implement the interfaces
var (
	_ persistence.Persistence          = (*AssetTagRepository)(nil)
	_ TagStatisticsRepositoryInterface = (*TagStatisticsRepository)(nil)
)
