// Package cache adds a Redis read-through cache in front of a persistence
// backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a cached tag list may be served
const DefaultTTL = 10 * time.Minute

const keyPrefix = "tagger"

// Client is the subset of go-redis used by the cache
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Persistence caches ListAssets and LoadTags results. Redis failures never
// fail a call; the backend is used directly instead.
type Persistence struct {
	next   persistence.Persistence
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewClient connects to Redis and verifies the connection
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// New wraps next with a cache. A ttl <= 0 uses DefaultTTL.
func New(next persistence.Persistence, client Client, ttl time.Duration, log *zap.Logger) *Persistence {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Persistence{next: next, client: client, ttl: ttl, logger: log}
}

// ListAssets returns the cached listing or fills it from the backend
func (p *Persistence) ListAssets(ctx context.Context, projectPath string) ([]string, error) {
	key := assetsKey(projectPath)
	if ids, ok := p.get(ctx, key); ok {
		return ids, nil
	}

	ids, err := p.next.ListAssets(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	p.set(ctx, key, ids)
	return ids, nil
}

// LoadTags returns the cached tags or fills them from the backend
func (p *Persistence) LoadTags(ctx context.Context, projectPath, assetID string) ([]string, error) {
	key := tagsKey(projectPath, assetID)
	if tags, ok := p.get(ctx, key); ok {
		return tags, nil
	}

	tags, err := p.next.LoadTags(ctx, projectPath, assetID)
	if err != nil {
		return nil, err
	}
	p.set(ctx, key, tags)
	return tags, nil
}

// SaveTags writes through to the backend and then refreshes the cached entry.
// The listing is dropped because a save may register a new asset.
func (p *Persistence) SaveTags(ctx context.Context, projectPath, assetID string, tags []string) error {
	if err := p.next.SaveTags(ctx, projectPath, assetID, tags); err != nil {
		return err
	}

	if err := p.client.Del(ctx, assetsKey(projectPath)).Err(); err != nil {
		p.logger.Warn("cache_invalidate_failed",
			zap.String("asset_id", logger.SanitizeAssetID(assetID)),
			zap.Error(err),
		)
	}
	if tags == nil {
		tags = []string{}
	}
	p.set(ctx, tagsKey(projectPath, assetID), tags)
	return nil
}

func (p *Persistence) get(ctx context.Context, key string) ([]string, bool) {
	raw, err := p.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("cache_get_failed",
				zap.String("key", logger.SanitizePath(key)),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		p.logger.Warn("cache_entry_corrupt",
			zap.String("key", logger.SanitizePath(key)),
			zap.Error(err),
		)
		return nil, false
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

func (p *Persistence) set(ctx context.Context, key string, values []string) {
	raw, err := json.Marshal(values)
	if err != nil {
		return
	}
	if err := p.client.Set(ctx, key, raw, p.ttl).Err(); err != nil {
		p.logger.Warn("cache_set_failed",
			zap.String("key", logger.SanitizePath(key)),
			zap.Error(err),
		)
	}
}

func assetsKey(projectPath string) string {
	return fmt.Sprintf("%s:assets:%s", keyPrefix, projectPath)
}

func tagsKey(projectPath, assetID string) string {
	return fmt.Sprintf("%s:tags:%d:%s:%s", keyPrefix, len(projectPath), projectPath, assetID)
}
