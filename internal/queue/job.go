package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeTagsCommitted reports that one asset's tags were persisted
	JobTypeTagsCommitted JobType = "tags_committed"
	// JobTypeAnalyzeProject asks for a full recount of a project's tags
	JobTypeAnalyzeProject JobType = "analyze_project"
)

// Job represents a job in the queue
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Type        JobType    `json:"type"`
	ProjectPath string     `json:"project_path"`
	AssetID     string     `json:"asset_id,omitempty"` // Set for tags_committed jobs
	RunID       *uuid.UUID `json:"run_id,omitempty"`   // Batch run that produced the job
	Tags        []string   `json:"tags,omitempty"`     // Committed tag list
	Added       []string   `json:"added,omitempty"`
	Removed     []string   `json:"removed,omitempty"`
	NotBefore   *time.Time `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	NotAfter    *time.Time `json:"not_after,omitempty"`  // Latest time to process job (nil = no expiration)
	CreatedAt   time.Time  `json:"created_at"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// NewJob creates a new job for a project. assetID may be empty.
func NewJob(jobType JobType, projectPath, assetID string) *Job {
	return &Job{
		ID:          uuid.New(),
		Type:        jobType,
		ProjectPath: projectPath,
		AssetID:     assetID,
		CreatedAt:   time.Now(),
		RetryCount:  0,
		MaxRetries:  3,
	}
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()

	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}

	if j.NotAfter != nil && now.After(*j.NotAfter) {
		return false
	}

	return true
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}

	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
