// Package syncer runs batch load and save operations between the in-memory
// store and a persistence backend, with bounded concurrency and observable
// progress.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/benvon/smart-tagger/internal/queue"
	"github.com/benvon/smart-tagger/internal/store"
	"github.com/benvon/smart-tagger/internal/tagdiff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPoolSize is the number of storage calls a batch keeps in flight
	DefaultPoolSize = 6
	// MaxPoolSize caps the configurable pool size
	MaxPoolSize = 64
	// DefaultSettleDelay keeps the final progress observable before going idle
	DefaultSettleDelay = 750 * time.Millisecond
	// DefaultUnitTimeout bounds a single storage call
	DefaultUnitTimeout = 30 * time.Second

	publishTimeout = 5 * time.Second
	tracerName     = "smart-tagger/syncer"
)

var (
	// ErrBusy is returned when a batch is started while another is running
	ErrBusy = errors.New("a batch operation is already running")
	// ErrNotFound is returned for an asset the store does not hold
	ErrNotFound = errors.New("asset not found")
)

// Config tunes an Orchestrator
type Config struct {
	PoolSize    int
	SettleDelay time.Duration
	UnitTimeout time.Duration
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// Snapshot is the observable orchestrator state
type Snapshot struct {
	State    models.IOState   `json:"state"`
	Kind     models.BatchKind `json:"kind"`
	Progress models.Progress  `json:"progress"`
	RunID    uuid.UUID        `json:"run_id"`
}

// BatchResult describes one finished run
type BatchResult struct {
	RunID    uuid.UUID
	Kind     models.BatchKind
	Progress models.Progress
	// Failures maps asset id to the error that failed its unit
	Failures map[string]error
}

// Orchestrator drives batch I/O. Only one batch runs at a time.
type Orchestrator struct {
	store   *store.Store
	persist persistence.Persistence
	events  queue.Publisher
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	state    models.IOState
	kind     models.BatchKind
	progress models.Progress
	runID    uuid.UUID
	subs     map[int]chan Snapshot
	nextSub  int
}

// New creates an orchestrator over s and p. events may be nil.
func New(s *store.Store, p persistence.Persistence, events queue.Publisher, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.PoolSize > MaxPoolSize {
		cfg.PoolSize = MaxPoolSize
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = DefaultUnitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Orchestrator{
		store:   s,
		persist: p,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
		state:   models.IOStateIdle,
		subs:    make(map[int]chan Snapshot),
	}
}

// State returns the current I/O state
func (o *Orchestrator) State() models.IOState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Kind returns the kind of the running or last batch
func (o *Orchestrator) Kind() models.BatchKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.kind
}

// Progress returns the progress of the running or last batch
func (o *Orchestrator) Progress() models.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Snapshot returns state, kind, progress and run id together
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe streams snapshots on every state or progress change. Slow
// readers only see the latest snapshot. Call cancel to stop.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.snapshotLocked()
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			close(ch)
			o.mu.Unlock()
		})
	}
	return ch, cancel
}

// SaveAll persists every modified asset. Unit failures are reported in the
// result and leave the asset modified; they do not make SaveAll fail.
func (o *Orchestrator) SaveAll(ctx context.Context, projectPath string) (BatchResult, error) {
	_, done, err := o.StartSaveAll(ctx, projectPath)
	if err != nil {
		return BatchResult{}, err
	}
	return <-done, nil
}

// StartSaveAll begins SaveAll and runs it in the background. ErrBusy is
// returned before anything runs; the result arrives on the channel.
func (o *Orchestrator) StartSaveAll(ctx context.Context, projectPath string) (uuid.UUID, <-chan BatchResult, error) {
	runID, err := o.begin(models.BatchKindSave)
	if err != nil {
		return uuid.Nil, nil, err
	}
	snaps := o.store.SnapshotModified()
	done := make(chan BatchResult, 1)
	go func() {
		defer close(done)
		done <- o.save(ctx, runID, projectPath, snaps, "batch_save")
	}()
	return runID, done, nil
}

// SaveAsset persists one asset through the same state machine as SaveAll.
// An unmodified asset is a no-op with an empty result.
func (o *Orchestrator) SaveAsset(ctx context.Context, assetID, projectPath string) (BatchResult, error) {
	snap, ok := o.store.Snapshot(assetID)
	if !ok {
		return BatchResult{}, fmt.Errorf("%s: %w", assetID, ErrNotFound)
	}
	if !o.store.Index().Has(assetID) {
		return BatchResult{Kind: models.BatchKindSave, Failures: map[string]error{}}, nil
	}

	runID, err := o.begin(models.BatchKindSave)
	if err != nil {
		return BatchResult{}, err
	}
	// Re-read under the running state so edits made before begin are included
	if fresh, ok := o.store.Snapshot(assetID); ok {
		snap = fresh
	}
	return o.save(ctx, runID, projectPath, []store.Snapshot{snap}, "asset_save"), nil
}

func (o *Orchestrator) save(ctx context.Context, runID uuid.UUID, projectPath string, snaps []store.Snapshot, op string) BatchResult {
	ctx, span := o.tracer.Start(ctx, "syncer."+op, trace.WithAttributes(
		attribute.String("run_id", runID.String()),
		attribute.Int("units", len(snaps)),
	))
	defer span.End()

	started := time.Now()
	o.logger.Info(op+"_started",
		zap.String("run_id", runID.String()),
		zap.String("project_path", logpkg.SanitizePath(projectPath)),
		zap.Int("units", len(snaps)),
		zap.Int("pool_size", o.cfg.PoolSize),
	)

	o.setProgress(models.Progress{Total: len(snaps)})
	failures := make(map[string]error)

	o.runUnits(ctx, len(snaps), func(ctx context.Context, i int) error {
		snap := snaps[i]
		ctx, span := o.tracer.Start(ctx, "syncer.save_unit", trace.WithAttributes(
			attribute.String("asset_id", snap.AssetID),
			attribute.Int("tag_count", len(snap.Payload)),
		))
		defer span.End()

		if err := o.persist.SaveTags(ctx, projectPath, snap.AssetID, snap.Payload); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
			return err
		}
		o.publishCommitted(ctx, runID, projectPath, snap)
		return nil
	}, func(i int, err error) {
		snap := snaps[i]
		if err != nil {
			failures[snap.AssetID] = err
			o.logger.Warn("batch_unit_failed",
				zap.String("run_id", runID.String()),
				zap.String("operation", op),
				zap.String("asset_id", logpkg.SanitizeAssetID(snap.AssetID)),
				zap.String("error", logpkg.SanitizeError(err)),
			)
			o.advance(false)
			return
		}
		o.store.CommitAsset(snap)
		o.advance(true)
	})

	progress := o.Progress()
	span.SetAttributes(
		attribute.Int("completed", progress.Completed),
		attribute.Int("failed", progress.Failed),
	)
	if progress.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d unit(s) failed", progress.Failed))
	}
	o.logger.Info(op+"_finished",
		zap.String("run_id", runID.String()),
		zap.Int("completed", progress.Completed),
		zap.Int("failed", progress.Failed),
		zap.Int("total", progress.Total),
		zap.Duration("duration", time.Since(started)),
	)

	o.finish(ctx)
	return BatchResult{RunID: runID, Kind: models.BatchKindSave, Progress: progress, Failures: failures}
}

// LoadAll replaces the store with the project's assets. Assets whose tags
// fail to load are left out. A listing failure is returned as an error with
// zero progress.
func (o *Orchestrator) LoadAll(ctx context.Context, projectPath string) (BatchResult, error) {
	runID, err := o.begin(models.BatchKindLoad)
	if err != nil {
		return BatchResult{}, err
	}
	return o.load(ctx, runID, projectPath)
}

// StartLoadAll begins LoadAll and runs it in the background. A listing
// failure is logged and delivered as a result with zero progress.
func (o *Orchestrator) StartLoadAll(ctx context.Context, projectPath string) (uuid.UUID, <-chan BatchResult, error) {
	runID, err := o.begin(models.BatchKindLoad)
	if err != nil {
		return uuid.Nil, nil, err
	}
	done := make(chan BatchResult, 1)
	go func() {
		defer close(done)
		result, _ := o.load(ctx, runID, projectPath)
		done <- result
	}()
	return runID, done, nil
}

func (o *Orchestrator) load(ctx context.Context, runID uuid.UUID, projectPath string) (BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "syncer.batch_load", trace.WithAttributes(
		attribute.String("run_id", runID.String()),
	))
	defer span.End()

	started := time.Now()
	result := BatchResult{RunID: runID, Kind: models.BatchKindLoad, Failures: make(map[string]error)}

	listCtx, cancel := context.WithTimeout(ctx, o.cfg.UnitTimeout)
	ids, err := o.persist.ListAssets(listCtx, projectPath)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		o.logger.Error("batch_load_list_failed",
			zap.String("run_id", runID.String()),
			zap.String("project_path", logpkg.SanitizePath(projectPath)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
		o.finish(ctx)
		return result, fmt.Errorf("failed to list assets: %w", err)
	}

	o.logger.Info("batch_load_started",
		zap.String("run_id", runID.String()),
		zap.String("project_path", logpkg.SanitizePath(projectPath)),
		zap.Int("units", len(ids)),
		zap.Int("pool_size", o.cfg.PoolSize),
	)
	span.SetAttributes(attribute.Int("units", len(ids)))
	o.setProgress(models.Progress{Total: len(ids)})

	loaded := make([][]string, len(ids))
	ok := make([]bool, len(ids))

	o.runUnits(ctx, len(ids), func(ctx context.Context, i int) error {
		tags, err := o.persist.LoadTags(ctx, projectPath, ids[i])
		if err != nil {
			return err
		}
		if err := persistence.CheckTags(tags); err != nil {
			return err
		}
		loaded[i] = tags
		return nil
	}, func(i int, err error) {
		if err != nil {
			result.Failures[ids[i]] = err
			o.logger.Warn("batch_unit_failed",
				zap.String("run_id", runID.String()),
				zap.String("operation", "batch_load"),
				zap.String("asset_id", logpkg.SanitizeAssetID(ids[i])),
				zap.String("error", logpkg.SanitizeError(err)),
			)
			o.advance(false)
			return
		}
		ok[i] = true
		o.advance(true)
	})

	assets := make([]models.PersistedAsset, 0, len(ids))
	for i, id := range ids {
		if ok[i] {
			assets = append(assets, models.PersistedAsset{ID: id, Tags: loaded[i]})
		}
	}
	o.store.Replace(assets)

	result.Progress = o.Progress()
	if result.Progress.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d unit(s) failed", result.Progress.Failed))
	}
	o.logger.Info("batch_load_finished",
		zap.String("run_id", runID.String()),
		zap.Int("completed", result.Progress.Completed),
		zap.Int("failed", result.Progress.Failed),
		zap.Int("total", result.Progress.Total),
		zap.Duration("duration", time.Since(started)),
	)

	o.finish(ctx)
	return result, nil
}

// runUnits calls work for units 0..n-1 in order with at most PoolSize in
// flight. apply receives every outcome on the calling goroutine, one at a
// time, so it may touch shared state without locking.
func (o *Orchestrator) runUnits(ctx context.Context, n int, work func(ctx context.Context, i int) error, apply func(i int, err error)) {
	type outcome struct {
		index int
		err   error
	}
	results := make(chan outcome)

	go func() {
		var g errgroup.Group
		g.SetLimit(o.cfg.PoolSize)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				results <- outcome{index: i, err: o.callUnit(ctx, i, work)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		apply(r.index, r.err)
	}
}

func (o *Orchestrator) callUnit(ctx context.Context, i int, work func(ctx context.Context, i int) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	uctx, cancel := context.WithTimeout(ctx, o.cfg.UnitTimeout)
	defer cancel()
	return work(uctx, i)
}

func (o *Orchestrator) publishCommitted(ctx context.Context, runID uuid.UUID, projectPath string, snap store.Snapshot) {
	if o.events == nil {
		return
	}
	changes := tagdiff.DiffNames(snap.Baseline, snap.Payload)
	job := queue.NewJob(queue.JobTypeTagsCommitted, projectPath, snap.AssetID)
	job.RunID = &runID
	job.Tags = snap.Payload
	job.Added = changes.Added
	job.Removed = changes.Removed

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.events.Enqueue(pctx, job); err != nil {
		o.logger.Warn("tags_committed_publish_failed",
			zap.String("run_id", runID.String()),
			zap.String("asset_id", logpkg.SanitizeAssetID(snap.AssetID)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
	}
}

// begin moves Idle to the running state of kind, or fails with ErrBusy.
func (o *Orchestrator) begin(kind models.BatchKind) (uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != models.IOStateIdle {
		return uuid.Nil, ErrBusy
	}
	o.state = kind.RunningState()
	o.kind = kind
	o.progress = models.Progress{}
	o.runID = uuid.New()
	o.broadcastLocked()
	return o.runID, nil
}

// finish moves to Completing, holds for the settle delay, then goes Idle.
// Progress is kept until the next run begins.
func (o *Orchestrator) finish(ctx context.Context) {
	o.mu.Lock()
	o.state = models.IOStateCompleting
	o.broadcastLocked()
	o.mu.Unlock()

	if o.cfg.SettleDelay > 0 {
		timer := time.NewTimer(o.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	o.mu.Lock()
	o.state = models.IOStateIdle
	o.broadcastLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) setProgress(p models.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = p
	o.broadcastLocked()
}

func (o *Orchestrator) advance(succeeded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if succeeded {
		o.progress.Completed++
	} else {
		o.progress.Failed++
	}
	o.broadcastLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{State: o.state, Kind: o.kind, Progress: o.progress, RunID: o.runID}
}

// broadcastLocked replaces any unread snapshot with the current one
func (o *Orchestrator) broadcastLocked() {
	snap := o.snapshotLocked()
	for _, ch := range o.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
