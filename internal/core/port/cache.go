package port

import (
	"context"
	"time"
)

// Cache exposes the key/value operations shared by the RBAC caches.
// Get returns repository.ErrNotFound on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// BreachRangeCache stores k-anonymity range bodies keyed by hash prefix.
type BreachRangeCache interface {
	GetRange(ctx context.Context, prefix string) (string, bool, error)
	SetRange(ctx context.Context, prefix string, body string, ttl time.Duration) error
}
