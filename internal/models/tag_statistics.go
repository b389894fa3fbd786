package models

import (
	"time"
)

// TagStatistics holds tag frequencies across one project's assets
type TagStatistics struct {
	ProjectPath     string         `json:"project_path"`
	TagCounts       map[string]int `json:"tag_counts"` // Maps tag name to number of assets carrying it
	AssetCount      int            `json:"asset_count"`
	Tainted         bool           `json:"tainted"`
	LastAnalyzedAt  *time.Time     `json:"last_analyzed_at,omitempty"`
	AnalysisVersion int            `json:"analysis_version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
