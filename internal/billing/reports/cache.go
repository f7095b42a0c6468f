package reports

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const versionKeyPrefix = "reports:version:"

// Cache stores rendered reports in Redis under per-owner versioned keys.
// Bumping an owner's version orphans every key built before it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the owner's current version, 0 when never bumped.
func (c *Cache) Version(ctx context.Context, ownerID string) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKeyPrefix+ownerID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// BuildKey composes the cache key with the owner's current version.
func (c *Cache) BuildKey(ctx context.Context, ownerID string, parts ...string) (string, error) {
	ver, err := c.Version(ctx, ownerID)
	if err != nil {
		return "", err
	}
	all := append([]string{"reports", ownerID}, parts...)
	all = append(all, "v"+strconv.FormatInt(ver, 10))
	return strings.Join(all, ":"), nil
}

// FetchJSON loads key into dest, populating it with loader on a miss. hit
// reports whether the value came from Redis.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) (hit bool, err error) {
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return true, json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return false, err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return false, err
		}
	}
	return false, json.Unmarshal(raw, dest)
}

// Bump invalidates every cached report of the owner.
func (c *Cache) Bump(ctx context.Context, ownerID string) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, versionKeyPrefix+ownerID).Err()
}
