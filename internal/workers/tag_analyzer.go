package workers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benvon/smart-tagger/internal/database"
	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/benvon/smart-tagger/internal/queue"
	"go.uber.org/zap"
)

// JobProcessor handles one job type
type JobProcessor func(ctx context.Context, job *queue.Job) error

type processorEntry struct {
	proc JobProcessor
	// retry re-enqueues failed jobs with backoff instead of dead-lettering them
	retry bool
}

// RetryBaseDelay is the backoff before the first retry; it doubles per attempt
const RetryBaseDelay = 5 * time.Second

// TagAnalyzer keeps per-project tag frequency statistics current
type TagAnalyzer struct {
	assets       persistence.Persistence
	tagStatsRepo database.TagStatisticsRepositoryInterface
	requeue      queue.Publisher
	logger       *zap.Logger
	registry     map[queue.JobType]processorEntry
}

// NewTagAnalyzer creates a tag analyzer and registers its processors. requeue
// may be nil, in which case failed jobs are dead-lettered immediately.
func NewTagAnalyzer(
	assets persistence.Persistence,
	tagStatsRepo database.TagStatisticsRepositoryInterface,
	requeue queue.Publisher,
	logger *zap.Logger,
) *TagAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &TagAnalyzer{
		assets:       assets,
		tagStatsRepo: tagStatsRepo,
		requeue:      requeue,
		logger:       logger,
		registry:     make(map[queue.JobType]processorEntry),
	}
	a.RegisterProcessor(queue.JobTypeTagsCommitted, a.ProcessTagsCommittedJob, true)
	a.RegisterProcessor(queue.JobTypeAnalyzeProject, a.ProcessAnalyzeProjectJob, true)
	return a
}

// RegisterProcessor registers a processor for a job type.
func (a *TagAnalyzer) RegisterProcessor(typ queue.JobType, proc JobProcessor, retry bool) {
	a.registry[typ] = processorEntry{proc: proc, retry: retry}
}

// ProcessTagsCommittedJob recounts a project after an asset was saved. Jobs
// older than the last clean analysis are skipped, which collapses the burst
// of jobs a batch save produces into a few recounts.
func (a *TagAnalyzer) ProcessTagsCommittedJob(ctx context.Context, job *queue.Job) error {
	if job.ProjectPath == "" {
		return fmt.Errorf("project_path is required for tags_committed job")
	}
	a.logger.Debug("processing_tags_committed_job",
		zap.String("job_id", job.ID.String()),
		zap.String("project_path", logpkg.SanitizePath(job.ProjectPath)),
		zap.String("asset_id", logpkg.SanitizeAssetID(job.AssetID)),
		zap.Int("added", len(job.Added)),
		zap.Int("removed", len(job.Removed)),
	)

	stats, err := a.tagStatsRepo.GetByProjectOrCreate(ctx, job.ProjectPath)
	if err != nil {
		return fmt.Errorf("failed to get or create tag statistics: %w", err)
	}
	if !stats.Tainted && stats.LastAnalyzedAt != nil && stats.LastAnalyzedAt.After(job.CreatedAt) {
		a.logger.Debug("tag_statistics_already_current",
			zap.String("job_id", job.ID.String()),
			zap.Time("last_analyzed_at", *stats.LastAnalyzedAt),
		)
		return nil
	}

	return a.recount(ctx, stats)
}

// ProcessAnalyzeProjectJob marks a project's statistics stale and recounts it
func (a *TagAnalyzer) ProcessAnalyzeProjectJob(ctx context.Context, job *queue.Job) error {
	if job.ProjectPath == "" {
		return fmt.Errorf("project_path is required for analyze_project job")
	}
	transitioned, err := a.tagStatsRepo.MarkTainted(ctx, job.ProjectPath)
	if err != nil {
		return fmt.Errorf("failed to mark tag statistics tainted: %w", err)
	}
	a.logger.Info("processing_analyze_project_job",
		zap.String("job_id", job.ID.String()),
		zap.String("project_path", logpkg.SanitizePath(job.ProjectPath)),
		zap.Bool("newly_tainted", transitioned),
	)

	stats, err := a.tagStatsRepo.GetByProjectOrCreate(ctx, job.ProjectPath)
	if err != nil {
		return fmt.Errorf("failed to get or create tag statistics: %w", err)
	}
	return a.recount(ctx, stats)
}

func (a *TagAnalyzer) recount(ctx context.Context, stats *models.TagStatistics) error {
	assets, err := persistence.LoadProject(ctx, a.assets, stats.ProjectPath)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}

	counts, tagged := CountTags(assets)
	stats.TagCounts = counts
	stats.AssetCount = len(assets)

	a.logger.Info("aggregated_tag_statistics",
		zap.String("project_path", logpkg.SanitizePath(stats.ProjectPath)),
		zap.Int("assets", len(assets)),
		zap.Int("assets_with_tags", tagged),
		zap.Int("unique_tags", len(counts)),
	)

	updated, err := a.tagStatsRepo.UpdateStatistics(ctx, stats)
	if err != nil {
		return fmt.Errorf("failed to update tag statistics: %w", err)
	}
	if !updated {
		a.logger.Debug("tag_statistics_version_conflict",
			zap.String("project_path", logpkg.SanitizePath(stats.ProjectPath)),
		)
		return nil
	}

	a.logTopTagsIfDebug(stats.ProjectPath, counts)
	return nil
}

// CountTags returns how many assets carry each tag and how many assets have
// at least one tag.
func CountTags(assets []models.PersistedAsset) (counts map[string]int, tagged int) {
	counts = make(map[string]int)
	for _, asset := range assets {
		if len(asset.Tags) == 0 {
			continue
		}
		tagged++
		for _, tag := range asset.Tags {
			counts[tag]++
		}
	}
	return counts, tagged
}

// TopTags returns up to n tags ordered by count, then name
func TopTags(counts map[string]int, n int) []string {
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if n >= 0 && len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

func (a *TagAnalyzer) logTopTagsIfDebug(projectPath string, counts map[string]int) {
	if len(counts) == 0 || !a.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	a.logger.Debug("tag_breakdown",
		zap.String("project_path", logpkg.SanitizePath(projectPath)),
		zap.String("top_tags", logpkg.SanitizeTags(TopTags(counts, 20))),
	)
}

// ProcessJob processes a job based on its type using the processor registry.
func (a *TagAnalyzer) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()
	if job.IsExpired() {
		a.logger.Debug("tag_job_expired", zap.String("job_id", job.ID.String()))
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack expired job: %w", ackErr)
		}
		return nil
	}

	ent, ok := a.registry[job.Type]
	if !ok {
		if nackErr := msg.Nack(false); nackErr != nil {
			a.logger.Error("failed_to_nack_unknown_job_type",
				zap.String("job_id", job.ID.String()),
				zap.String("job_type", string(job.Type)),
				zap.String("error", logpkg.SanitizeError(nackErr)),
			)
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if err := ent.proc(ctx, job); err != nil {
		a.logger.Error("tag_job_failed",
			zap.String("operation", "process_job"),
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
			zap.Int("retry_count", job.RetryCount),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		if ent.retry {
			return a.retryOrDeadLetter(ctx, msg, job, err)
		}
		if nackErr := msg.Nack(false); nackErr != nil {
			a.logger.Warn("failed_to_nack_tag_job",
				zap.String("job_id", job.ID.String()),
				zap.String("error", logpkg.SanitizeError(nackErr)),
			)
		}
		return fmt.Errorf("tag job failed: %w", err)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack tag job: %w", ackErr)
	}
	return nil
}

// retryOrDeadLetter re-enqueues a copy of job with exponential backoff and
// acks the original. Exhausted jobs go to the DLQ.
func (a *TagAnalyzer) retryOrDeadLetter(ctx context.Context, msg queue.MessageInterface, job *queue.Job, cause error) error {
	if a.requeue == nil || !job.CanRetry() {
		if nackErr := msg.Nack(false); nackErr != nil {
			a.logger.Warn("failed_to_nack_tag_job",
				zap.String("job_id", job.ID.String()),
				zap.String("error", logpkg.SanitizeError(nackErr)),
			)
		}
		return fmt.Errorf("tag job failed permanently: %w", cause)
	}

	retry := *job
	retry.IncrementRetry()
	notBefore := time.Now().Add(RetryBaseDelay << (retry.RetryCount - 1))
	retry.NotBefore = &notBefore

	if err := a.requeue.Enqueue(ctx, &retry); err != nil {
		// Requeue the original instead so the work is not lost
		if nackErr := msg.Nack(true); nackErr != nil {
			a.logger.Warn("failed_to_nack_tag_job",
				zap.String("job_id", job.ID.String()),
				zap.String("error", logpkg.SanitizeError(nackErr)),
			)
		}
		return fmt.Errorf("failed to re-enqueue job: %w", err)
	}

	a.logger.Info("tag_job_scheduled_for_retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", retry.RetryCount),
		zap.Time("not_before", notBefore),
	)
	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack retried job: %w", ackErr)
	}
	return fmt.Errorf("tag job scheduled for retry: %w", cause)
}
