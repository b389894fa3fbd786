// Package backend assembles the persistence stack and its supporting
// connections from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/smart-tagger/internal/cache"
	"github.com/benvon/smart-tagger/internal/config"
	"github.com/benvon/smart-tagger/internal/database"
	"github.com/benvon/smart-tagger/internal/handlers"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/benvon/smart-tagger/internal/queue"
	"github.com/benvon/smart-tagger/internal/ratelimit"
	"github.com/benvon/smart-tagger/internal/sidecar"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

const (
	queueMaxRetries   = 10
	queueInitialDelay = 2 * time.Second
	queueMaxDelay     = 30 * time.Second
)

// Backend is the storage stack: the configured persistence wrapped in the
// throttle and, when Redis is set, the read-through cache
type Backend struct {
	Persistence persistence.Persistence
	// DB is set when a database URL is configured, whatever the backend
	DB *database.DB
	// Redis is nil when REDIS_URL is unset
	Redis        *redis.Client
	LimiterStore limiter.Store

	closers []func() error
}

// Open connects every configured dependency and builds the persistence stack.
// A configured database gets its schema applied.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{}

	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.DB = db
		b.closers = append(b.closers, db.Close)
		logger.Info("connected_to_database")

		if err := db.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewClient(cfg.RedisURL)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.Redis = client
		b.closers = append(b.closers, client.Close)
		logger.Info("connected_to_redis")
	}

	var base persistence.Persistence
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		if b.DB == nil {
			_ = b.Close()
			return nil, errors.New("postgres backend requires DATABASE_URL")
		}
		base = database.NewAssetTagRepository(b.DB)
	default:
		base = sidecar.New(logger)
	}

	store, err := ratelimit.NewStore(b.Redis)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.LimiterStore = store

	throttled, err := ratelimit.New(base, store, cfg.StorageRateLimit, "storage:"+cfg.StorageBackend, logger)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Persistence = throttled

	if b.Redis != nil {
		b.Persistence = cache.New(throttled, b.Redis, cfg.CacheTTL, logger)
	}

	logger.Info("storage_backend_ready",
		zap.String("backend", cfg.StorageBackend),
		zap.String("rate", cfg.StorageRateLimit),
		zap.Bool("cache", b.Redis != nil),
	)
	return b, nil
}

// HealthChecks returns a probe per connected dependency
func (b *Backend) HealthChecks() map[string]handlers.CheckFunc {
	checks := make(map[string]handlers.CheckFunc)
	if b.DB != nil {
		checks["database"] = b.DB.PingContext
	}
	if b.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return b.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases every connection Open made
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// dialer opens a queue connection
type dialer func(url string, log *zap.Logger) (*queue.RabbitMQQueue, error)

// ConnectQueue connects to RabbitMQ, retrying with exponential backoff while
// the broker starts up
func ConnectQueue(ctx context.Context, url string, logger *zap.Logger) (*queue.RabbitMQQueue, error) {
	return connectQueue(ctx, url, logger, queue.NewRabbitMQQueue, queueInitialDelay)
}

func connectQueue(ctx context.Context, url string, logger *zap.Logger, dial dialer, initialDelay time.Duration) (*queue.RabbitMQQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	for attempt := 0; attempt < queueMaxRetries; attempt++ {
		q, err := dial(url, logger)
		if err == nil {
			logger.Info("connected_to_rabbitmq")
			return q, nil
		}
		lastErr = err

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > queueMaxDelay {
			delay = queueMaxDelay
		}
		logger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", queueMaxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", queueMaxRetries, lastErr)
}
