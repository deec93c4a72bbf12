package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
)

// slidingWindowLimiter enforces a per-key attempt budget over a trailing window.
// Store failures fail open and are logged.
type slidingWindowLimiter struct {
	store  port.RateLimitStore
	scope  string
	limit  int
	window time.Duration
	logger *zap.Logger
}

func newSlidingWindowLimiter(store port.RateLimitStore, scope string, limit int, window time.Duration, logger *zap.Logger) *slidingWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &slidingWindowLimiter{store: store, scope: scope, limit: limit, window: window, logger: logger}
}

// Allow records an attempt for key or returns a RateLimitExceededError.
func (l *slidingWindowLimiter) Allow(ctx context.Context, key string, now time.Time) error {
	if l == nil || l.store == nil || l.limit <= 0 {
		return nil
	}

	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil
	}
	storageKey := fmt.Sprintf("%s:%s", l.scope, key)

	if err := l.store.TrimWindow(ctx, storageKey, l.window, now); err != nil {
		l.logger.Warn("rate limit trim failed", zap.String("scope", l.scope), zap.Error(err))
		return nil
	}

	count, err := l.store.CountAttempts(ctx, storageKey, l.window, now)
	if err != nil {
		l.logger.Warn("rate limit count failed", zap.String("scope", l.scope), zap.Error(err))
		return nil
	}

	if count >= l.limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := l.store.OldestAttempt(ctx, storageKey, l.window, now); err == nil && ok {
			if reset := oldest.Add(l.window); reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			l.logger.Warn("rate limit oldest lookup failed", zap.String("scope", l.scope), zap.Error(err))
		}
		return &domain.RateLimitExceededError{Scope: l.scope, RetryAfter: retryAfter}
	}

	if err := l.store.RecordAttempt(ctx, storageKey, now); err != nil {
		l.logger.Warn("rate limit record failed", zap.String("scope", l.scope), zap.Error(err))
	}

	return nil
}
