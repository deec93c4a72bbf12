package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/port"
)

// IdentifierFunc extracts the key a rule is scoped to. ok=false skips the rule for this request.
type IdentifierFunc func(*gin.Context) (key string, ok bool)

// RateLimitRule is one sliding-window budget.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimitResponse is the 429 body. It extends ErrorResponse with the retry hint.
type RateLimitResponse struct {
	Error      string `json:"error"`
	TraceID    string `json:"trace_id,omitempty"`
	Rule       string `json:"rule"`
	RetryAfter int    `json:"retry_after"`
}

// RateLimiter enforces sliding-window request limits in front of handlers.
// Store failures fail open for the affected rule.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

type decision struct {
	rule      string
	allowed   bool
	limit     int
	remaining int
	resetAt   time.Time
}

func (d decision) retryAfter(now time.Time) time.Duration {
	return max(d.resetAt.Sub(now), 0)
}

// tighter reports whether d should be advertised in the headers instead of other.
func (d decision) tighter(other decision) bool {
	switch {
	case d.allowed != other.allowed:
		return !d.allowed
	case d.remaining != other.remaining:
		return d.remaining < other.remaining
	default:
		return d.resetAt.Before(other.resetAt)
	}
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the clock; used by tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes limits to the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// ActorIdentifier scopes limits to the authenticated actor.
func ActorIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		return GetActorID(c)
	}
}

// RateLimit returns a middleware enforcing every usable rule. The first rule
// over budget aborts the request; otherwise the tightest rule sets the headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if rl.store == nil || len(active) == 0 {
			c.Next()
			return
		}

		now := rl.now()
		var advertised *decision
		for _, rule := range active {
			key, ok := rule.Identifier(c)
			if !ok || key == "" {
				continue
			}

			d, err := rl.check(c, rule, rule.Name+":"+key, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed", zap.String("rule", rule.Name), zap.Error(err))
				continue
			}
			if !d.allowed {
				rl.reject(c, d, now)
				return
			}
			if advertised == nil || d.tighter(*advertised) {
				advertised = &d
			}
		}

		if advertised != nil {
			setRateLimitHeaders(c, *advertised)
		}
		c.Next()
	}
}

func (rl *RateLimiter) check(c *gin.Context, rule RateLimitRule, key string, now time.Time) (decision, error) {
	ctx := c.Request.Context()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return decision{}, err
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, err
	}
	oldest, found, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, err
	}

	d := decision{rule: rule.Name, limit: rule.Limit, resetAt: now.Add(rule.Window)}
	if found {
		d.resetAt = oldest.Add(rule.Window)
	}
	if count >= rule.Limit {
		return d, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return decision{}, err
	}
	d.allowed = true
	d.remaining = max(rule.Limit-count-1, 0)
	return d, nil
}

func (rl *RateLimiter) reject(c *gin.Context, d decision, now time.Time) {
	seconds := retrySeconds(d.retryAfter(now))
	setRateLimitHeaders(c, d)
	c.Header("Retry-After", strconv.Itoa(seconds))

	traceID := GetTraceID(c)
	rl.logger.Info("rate limit exceeded",
		zap.String("rule", d.rule),
		zap.String("route", routeOf(c)),
		zap.String("trace_id", traceID),
		zap.Int("retry_after", seconds),
	)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitResponse{
		Error:      "too many requests",
		TraceID:    traceID,
		Rule:       d.rule,
		RetryAfter: seconds,
	})
}

func setRateLimitHeaders(c *gin.Context, d decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))
}

// retrySeconds rounds up so clients never retry inside the window.
func retrySeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 0)
}
