package memory

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

const (
	defaultMaxEntries = 10000
	defaultTTL        = time.Hour
	breachKeyPrefix   = "breach_range:"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is an in-process LRU used when Redis is not configured.
// The LRU TTL bounds every entry; a shorter per-call ttl is enforced on read.
type Cache struct {
	items *lru.LRU[string, entry]
	ttl   time.Duration
	now   func() time.Time
}

// NewCache constructs an in-process cache holding at most maxEntries items.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		items: lru.NewLRU[string, entry](maxEntries, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	if clock != nil {
		c.now = clock
	}
	return c
}

// Get returns repository.ErrNotFound on a miss.
func (c *Cache) Get(_ context.Context, key string) (string, error) {
	value, ok := c.lookup(key)
	if !ok {
		return "", repository.ErrNotFound
	}
	return value, nil
}

// Set stores value; ttl values above the cache TTL are capped.
func (c *Cache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	c.items.Add(key, entry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Delete removes the given keys.
func (c *Cache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.items.Remove(key)
	}
	return nil
}

// GetRange returns a cached k-anonymity range body.
func (c *Cache) GetRange(_ context.Context, prefix string) (string, bool, error) {
	value, ok := c.lookup(breachKeyPrefix + strings.ToUpper(prefix))
	return value, ok, nil
}

// SetRange caches a k-anonymity range body.
func (c *Cache) SetRange(ctx context.Context, prefix string, body string, ttl time.Duration) error {
	return c.Set(ctx, breachKeyPrefix+strings.ToUpper(prefix), body, ttl)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.items.Len()
}

func (c *Cache) lookup(key string) (string, bool) {
	item, ok := c.items.Get(key)
	if !ok {
		return "", false
	}
	if !c.now().Before(item.expiresAt) {
		c.items.Remove(key)
		return "", false
	}
	return item.value, true
}

var (
	_ port.Cache            = (*Cache)(nil)
	_ port.BreachRangeCache = (*Cache)(nil)
)
