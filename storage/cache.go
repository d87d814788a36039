package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tasktracker/domain"
	"tasktracker/internal/consts"
)

type referenceBackend interface {
	Categories(ctx context.Context) ([]domain.Category, error)
	Priorities(ctx context.Context) ([]domain.Priority, error)
}

// ReferenceCache serves categories and priorities from Redis, falling back to
// the backing store on a miss or any Redis failure.
type ReferenceCache struct {
	base  referenceBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewReferenceCache creates a cache over base. A nil client disables caching.
func NewReferenceCache(base referenceBackend, client *redis.Client, ttl time.Duration) *ReferenceCache {
	if base == nil {
		panic("storage.NewReferenceCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &ReferenceCache{base: base, redis: client, ttl: ttl}
}

func (c *ReferenceCache) Categories(ctx context.Context) ([]domain.Category, error) {
	var cached []domain.Category
	if c.load(ctx, consts.CategoriesCacheKey, &cached) {
		return cached, nil
	}
	cats, err := c.base.Categories(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, consts.CategoriesCacheKey, cats)
	return cats, nil
}

func (c *ReferenceCache) Priorities(ctx context.Context) ([]domain.Priority, error) {
	var cached []domain.Priority
	if c.load(ctx, consts.PrioritiesCacheKey, &cached) {
		return cached, nil
	}
	pris, err := c.base.Priorities(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, consts.PrioritiesCacheKey, pris)
	return pris, nil
}

// GetCategory returns nil when id is unknown.
func (c *ReferenceCache) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	cats, err := c.Categories(ctx)
	if err != nil {
		return nil, err
	}
	for _, cat := range cats {
		if cat.ID == id {
			return &cat, nil
		}
	}
	return nil, nil
}

// GetPriority returns nil when id is unknown.
func (c *ReferenceCache) GetPriority(ctx context.Context, id int64) (*domain.Priority, error) {
	pris, err := c.Priorities(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pris {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

// Invalidate drops both cached lists.
func (c *ReferenceCache) Invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, consts.CategoriesCacheKey, consts.PrioritiesCacheKey).Result()
}

func (c *ReferenceCache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *ReferenceCache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}
