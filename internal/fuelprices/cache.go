package fuelprices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BumpChannel receives the timeline key and new version whenever a timeline changes.
const BumpChannel = "fuelsync.prices.bump"

// Cache keeps whole price timelines in Redis under versioned keys. It serves read-only
// lookups; writes and reading ingestion always go to the database.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(key Key) string {
	return fmt.Sprintf("fuelsync:prices:version:%d:%d:%s", key.TenantID, key.StationID, key.FuelType)
}

// Version returns the current version of a timeline, initialising when missing.
func (c *Cache) Version(ctx context.Context, key Key) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, versionKey(key), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(key)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the timeline cache key with its current version.
func (c *Cache) BuildKey(ctx context.Context, key Key) (string, error) {
	ver, err := c.Version(ctx, key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fuelsync:prices:timeline:%d:%d:%s:%d", key.TenantID, key.StationID, key.FuelType, ver), nil
}

// Timeline returns the cached intervals of key, populating the entry through loader on
// a miss. Concurrent misses for the same entry share one loader call. hit reports whether
// Redis already held the entry.
func (c *Cache) Timeline(ctx context.Context, key Key, loader func(context.Context) ([]Interval, error)) (intervals []Interval, hit bool, err error) {
	if loader == nil {
		return nil, false, errors.New("fuelprices: cache loader required")
	}
	if c == nil || c.client == nil {
		intervals, err = loader(ctx)
		return intervals, false, err
	}
	cacheKey, err := c.BuildKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		if err := json.Unmarshal(payload, &intervals); err != nil {
			return nil, false, err
		}
		return intervals, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	ch := c.group.DoChan(cacheKey, func() (interface{}, error) {
		loaded, err := loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(loaded)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(context.WithoutCancel(ctx), cacheKey, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]Interval), false, nil
	}
}

// Bump invalidates a timeline by incrementing its version and publishing an event.
func (c *Cache) Bump(ctx context.Context, key Key) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(key)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, key.String()+"@"+strconv.FormatInt(ver, 10)).Err()
}
