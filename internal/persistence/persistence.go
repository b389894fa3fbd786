// Package persistence defines the storage boundary the sync engine talks to.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/tagdiff"
)

var (
	// ErrNotFound is returned when a project or asset does not exist
	ErrNotFound = errors.New("not found")
	// ErrMalformed is returned when stored tags violate the tag invariants
	ErrMalformed = errors.New("malformed tag data")
)

// Persistence is the durable store behind the engine. Implementations must be
// safe for concurrent use; the orchestrator calls them from a worker pool.
type Persistence interface {
	ListAssets(ctx context.Context, projectPath string) ([]string, error)
	LoadTags(ctx context.Context, projectPath, assetID string) ([]string, error)
	SaveTags(ctx context.Context, projectPath, assetID string, tags []string) error
}

// LoadProject lists every asset in projectPath and loads its tags sequentially.
// The first failure aborts the load.
func LoadProject(ctx context.Context, p Persistence, projectPath string) ([]models.PersistedAsset, error) {
	ids, err := p.ListAssets(ctx, projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	assets := make([]models.PersistedAsset, 0, len(ids))
	for _, id := range ids {
		tags, err := p.LoadTags(ctx, projectPath, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load tags for %s: %w", id, err)
		}
		if err := CheckTags(tags); err != nil {
			return nil, fmt.Errorf("asset %s: %w", id, err)
		}
		assets = append(assets, models.PersistedAsset{ID: id, Tags: tags})
	}
	return assets, nil
}

// CheckTags reports ErrMalformed when tags contain an empty or repeated name.
func CheckTags(tags []string) error {
	if name, ok := tagdiff.Validate(tags); !ok {
		if name == "" {
			return fmt.Errorf("%w: empty tag name", ErrMalformed)
		}
		return fmt.Errorf("%w: duplicate tag %q", ErrMalformed, name)
	}
	return nil
}
