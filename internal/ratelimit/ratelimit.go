// Package ratelimit throttles calls into a persistence backend.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// DefaultRate is used when no rate is configured
const DefaultRate = "50-S"

const storePrefix = "tagger_storage"

// Persistence delays storage calls once the configured rate is reached.
// Calls wait for the window to reset rather than failing.
type Persistence struct {
	next    persistence.Persistence
	limiter *limiter.Limiter
	key     string
	logger  *zap.Logger
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewStore returns a redis limiter store when client is set, otherwise an
// in-process memory store.
func NewStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          storePrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: storePrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// New wraps next with a limiter. rate uses the limiter format, e.g. "50-S".
// key scopes the counter; backends sharing a key share a budget.
func New(next persistence.Persistence, store limiter.Store, rate, key string, log *zap.Logger) (*Persistence, error) {
	if rate == "" {
		rate = DefaultRate
	}
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid storage rate %q: %w", rate, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Persistence{
		next:    next,
		limiter: limiter.New(store, r),
		key:     key,
		logger:  log,
	}, nil
}

// ListAssets waits for budget and lists assets
func (p *Persistence) ListAssets(ctx context.Context, projectPath string) ([]string, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.ListAssets(ctx, projectPath)
}

// LoadTags waits for budget and loads tags
func (p *Persistence) LoadTags(ctx context.Context, projectPath, assetID string) ([]string, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.LoadTags(ctx, projectPath, assetID)
}

// SaveTags waits for budget and saves tags
func (p *Persistence) SaveTags(ctx context.Context, projectPath, assetID string, tags []string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	return p.next.SaveTags(ctx, projectPath, assetID, tags)
}

// wait consumes one unit of budget, sleeping until the window resets while
// the limit is reached.
func (p *Persistence) wait(ctx context.Context) error {
	for {
		lctx, err := p.limiter.Get(ctx, p.key)
		if err != nil {
			return fmt.Errorf("storage rate limiter: %w", err)
		}
		if !lctx.Reached {
			return nil
		}

		delay := time.Until(time.Unix(lctx.Reset, 0))
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}
		p.logger.Debug("storage_rate_limited",
			zap.Int64("limit", lctx.Limit),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for storage budget: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
