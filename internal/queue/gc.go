package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultGCInterval is used when the configured interval is not positive
	DefaultGCInterval = time.Hour
	purgeTimeout      = 2 * time.Minute
)

// GarbageCollector sweeps the dead-letter queue of tag analysis jobs that
// exhausted their retries. Messages older than retention are dropped.
type GarbageCollector struct {
	dlqPurger DLQPurger
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	purged    atomic.Int64
}

// NewGarbageCollector creates a collector. A nil purger makes every sweep a
// no-op.
func NewGarbageCollector(purger DLQPurger, interval, retention time.Duration, log *zap.Logger) *GarbageCollector {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &GarbageCollector{
		dlqPurger: purger,
		interval:  interval,
		retention: retention,
		logger:    log,
	}
}

// Start sweeps once immediately, then every interval until ctx is cancelled.
// Dead letters left by a previous run are cleared at startup.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	gc.sweep(ctx)

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			gc.sweep(ctx)
		}
	}
}

// Purged returns how many dead letters this collector has removed.
func (gc *GarbageCollector) Purged() int64 {
	return gc.purged.Load()
}

func (gc *GarbageCollector) sweep(ctx context.Context) {
	if err := gc.collect(ctx); err != nil && ctx.Err() == nil {
		gc.logger.Warn("dlq_gc_failed", zap.Error(err))
	}
}

func (gc *GarbageCollector) collect(ctx context.Context) error {
	if gc.dlqPurger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	n, err := gc.dlqPurger.PurgeOlderThan(ctx, gc.retention)
	if err != nil {
		return fmt.Errorf("purge dead letters: %w", err)
	}
	if n > 0 {
		total := gc.purged.Add(int64(n))
		gc.logger.Info("dlq_gc_purged",
			zap.Int("count", n),
			zap.Int64("total", total),
			zap.Duration("retention", gc.retention),
		)
	}
	return nil
}
