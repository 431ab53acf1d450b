// Package cache provides the kernel's small read-through cache for plugin
// configuration. With a Redis address configured it is shared across
// instances; without one it degrades to an in-process map with the same
// interface and TTL semantics.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a string cache with a fixed TTL.
type Cache struct {
	ttl time.Duration

	rdb *redis.Client

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

// New builds a cache. redisAddr may be empty for in-process mode.
func New(redisAddr string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{ttl: ttl, local: make(map[string]localEntry)}
	if redisAddr != "" {
		c.rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return c
}

// Get returns the cached value for key, if present and fresh.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.rdb != nil {
		value, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			return value, true
		}
		if err != redis.Nil {
			log.Printf("cache read %q: %v", key, err)
		}
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.local[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.local, key)
		return "", false
	}
	return entry.value, true
}

// Set stores value under key for the cache TTL.
func (c *Cache) Set(ctx context.Context, key, value string) {
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
			log.Printf("cache write %q: %v", key, err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = localEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			log.Printf("cache delete %q: %v", key, err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, key)
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
