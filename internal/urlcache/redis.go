// Package urlcache caches timed playback URLs so repeated playback of the
// same step does not re-mint a URL on every seek.
package urlcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a redis-backed map from storage path to a presigned playback
// URL. Entries expire well before the URL itself does, so a cached URL is
// always still retrievable when handed out.
type Cache struct {
	client *redis.Client
	prefix string
	margin time.Duration
}

// New connects to redis at redisURL.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{
		client: client,
		prefix: "playback:",
		margin: 30 * time.Second,
	}, nil
}

func (c *Cache) key(storagePath string) string {
	return c.prefix + storagePath
}

// Put caches the URL for a lifetime trimmed below urlTTL. URLs whose
// remaining life is inside the safety margin are not cached at all.
func (c *Cache) Put(ctx context.Context, storagePath, playbackURL string, urlTTL time.Duration) error {
	ttl := urlTTL - c.margin
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(storagePath), playbackURL, ttl).Err(); err != nil {
		return fmt.Errorf("cache playback url: %w", err)
	}
	return nil
}

// Get returns the cached URL, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, storagePath string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(storagePath)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup playback url: %w", err)
	}
	return val, true, nil
}

// Invalidate drops the entry for a path, used when its video is replaced.
func (c *Cache) Invalidate(ctx context.Context, storagePath string) error {
	if err := c.client.Del(ctx, c.key(storagePath)).Err(); err != nil {
		return fmt.Errorf("invalidate playback url: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
