package workers

import (
	"context"
	"sync"
	"testing"

	"github.com/benvon/smart-tagger/internal/database"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/benvon/smart-tagger/internal/queue"
)

// mockTagStatisticsRepoForWorker is a mock for testing tag analyzer worker
type mockTagStatisticsRepoForWorker struct {
	t                        *testing.T
	getByProjectFunc         func(ctx context.Context, projectPath string) (*models.TagStatistics, error)
	getByProjectOrCreateFunc func(ctx context.Context, projectPath string) (*models.TagStatistics, error)
	updateStatisticsFunc     func(ctx context.Context, stats *models.TagStatistics) (bool, error)
	markTaintedFunc          func(ctx context.Context, projectPath string) (bool, error)

	// Call tracking (protected by mutex for concurrent access)
	mu                    sync.Mutex
	updateStatisticsCalls []*models.TagStatistics
	markTaintedCalls      []string
}

func (m *mockTagStatisticsRepoForWorker) GetByProject(ctx context.Context, projectPath string) (*models.TagStatistics, error) {
	if m.getByProjectFunc == nil {
		m.t.Fatal("GetByProject called but not configured in test - mock requires explicit setup")
	}
	return m.getByProjectFunc(ctx, projectPath)
}

func (m *mockTagStatisticsRepoForWorker) GetByProjectOrCreate(ctx context.Context, projectPath string) (*models.TagStatistics, error) {
	if m.getByProjectOrCreateFunc == nil {
		m.t.Fatal("GetByProjectOrCreate called but not configured in test - mock requires explicit setup")
	}
	return m.getByProjectOrCreateFunc(ctx, projectPath)
}

func (m *mockTagStatisticsRepoForWorker) UpdateStatistics(ctx context.Context, stats *models.TagStatistics) (bool, error) {
	m.mu.Lock()
	m.updateStatisticsCalls = append(m.updateStatisticsCalls, stats)
	m.mu.Unlock()
	if m.updateStatisticsFunc == nil {
		m.t.Fatal("UpdateStatistics called but not configured in test - mock requires explicit setup")
	}
	return m.updateStatisticsFunc(ctx, stats)
}

func (m *mockTagStatisticsRepoForWorker) MarkTainted(ctx context.Context, projectPath string) (bool, error) {
	m.mu.Lock()
	m.markTaintedCalls = append(m.markTaintedCalls, projectPath)
	m.mu.Unlock()
	if m.markTaintedFunc == nil {
		m.t.Fatal("MarkTainted called but not configured in test - mock requires explicit setup")
	}
	return m.markTaintedFunc(ctx, projectPath)
}

var _ database.TagStatisticsRepositoryInterface = (*mockTagStatisticsRepoForWorker)(nil)

// mockAssets serves a fixed project from memory
type mockAssets struct {
	tags    map[string][]string
	order   []string
	listErr error
}

func (m *mockAssets) ListAssets(_ context.Context, _ string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.order, nil
}

func (m *mockAssets) LoadTags(_ context.Context, _, assetID string) ([]string, error) {
	return m.tags[assetID], nil
}

func (m *mockAssets) SaveTags(_ context.Context, _, _ string, _ []string) error {
	return nil
}

var _ persistence.Persistence = (*mockAssets)(nil)

// mockPublisher records enqueued jobs
type mockPublisher struct {
	mu          sync.Mutex
	jobs        []*queue.Job
	enqueueFunc func(ctx context.Context, job *queue.Job) error
}

func (m *mockPublisher) Enqueue(ctx context.Context, job *queue.Job) error {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, job)
	}
	return nil
}

var _ queue.Publisher = (*mockPublisher)(nil)

// mockMessage is a mock implementation of MessageInterface
type mockMessage struct {
	job      *queue.Job
	acked    bool
	nacked   bool
	requeued bool
	ackFunc  func() error
	nackFunc func(requeue bool) error
}

func (m *mockMessage) Ack() error {
	m.acked = true
	if m.ackFunc != nil {
		return m.ackFunc()
	}
	return nil
}

func (m *mockMessage) Nack(requeue bool) error {
	m.nacked = true
	m.requeued = requeue
	if m.nackFunc != nil {
		return m.nackFunc(requeue)
	}
	return nil
}

func (m *mockMessage) GetJob() *queue.Job {
	return m.job
}

// Ensure mock implements interface
var _ queue.MessageInterface = (*mockMessage)(nil)
