package guests

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CountCache keeps the guest count per event in Redis. Writers that add or
// remove guests call Invalidate; readers fill it lazily.
type CountCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCountCache(rdb redis.Cmdable, ttl time.Duration) *CountCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CountCache{rdb: rdb, ttl: ttl}
}

func countKey(eventID string) string { return fmt.Sprintf("event:%s:guest_count", eventID) }

// Get returns the cached count, calling load on a miss. Cache errors fall
// back to load; they never fail the read.
func (c *CountCache) Get(ctx context.Context, eventID string, load func(ctx context.Context) (int, error)) (int, error) {
	raw, err := c.rdb.Get(ctx, countKey(eventID)).Result()
	if err == nil {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			return n, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// Redis unavailable; serve from the source of truth.
		return load(ctx)
	}

	n, err := load(ctx)
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Set(ctx, countKey(eventID), n, c.ttl).Err()
	return n, nil
}

func (c *CountCache) Invalidate(ctx context.Context, eventID string) error {
	if err := c.rdb.Del(ctx, countKey(eventID)).Err(); err != nil {
		return fmt.Errorf("guests: invalidate count %s: %w", eventID, err)
	}
	return nil
}
