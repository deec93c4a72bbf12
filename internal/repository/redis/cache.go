package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

const defaultCachePrefix = "superauth:cache"

// Cache stores RBAC snapshots and breach range bodies as plain strings.
type Cache struct {
	client       *red.Client
	prefix       string
	breachPrefix string
}

// NewCache constructs a Redis-backed cache with the provided key prefix.
func NewCache(client *red.Client, keyPrefix string) *Cache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	return &Cache{
		client:       client,
		prefix:       prefix,
		breachPrefix: prefix + ":breach_range",
	}
}

// Get returns repository.ErrNotFound on a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, red.Nil) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key; a non-positive ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.key(key)
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// GetRange returns a cached k-anonymity range body.
func (c *Cache) GetRange(ctx context.Context, prefix string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.breachKey(prefix)).Result()
	if errors.Is(err, red.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get breach range: %w", err)
	}
	return value, true, nil
}

// SetRange caches a k-anonymity range body.
func (c *Cache) SetRange(ctx context.Context, prefix string, body string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.breachKey(prefix), body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set breach range: %w", err)
	}
	return nil
}

func (c *Cache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

func (c *Cache) breachKey(prefix string) string {
	return fmt.Sprintf("%s:%s", c.breachPrefix, strings.ToUpper(prefix))
}

var (
	_ port.Cache            = (*Cache)(nil)
	_ port.BreachRangeCache = (*Cache)(nil)
)
