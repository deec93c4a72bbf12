// Package breach implements the k-anonymity range lookup against a Pwned Passwords compatible API.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/telemetry"
)

const (
	prefixLength     = 5
	maxBodyBytes     = 1 << 20
	serviceName      = "breach_api"
	defaultBaseURL   = "https://api.pwnedpasswords.com/range/"
	defaultTimeout   = 10 * time.Second
	defaultCacheTTL  = time.Hour
	defaultUserAgent = "superauth-breach-client"
)

var errThrottled = errors.New("breach: outbound rate limit reached")

// Config tunes the client.
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Burst             int
	Policy            domain.DegradationPolicy
}

// Client performs breach lookups. Only the first five hex characters of the
// SHA-1 digest ever leave the process.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   port.BreachRangeCache
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *telemetry.DomainMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithCache enables range caching.
func WithCache(cache port.BreachRangeCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records lookups on metrics.
func WithMetrics(metrics *telemetry.DomainMetrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithClock overrides the time source used for response timing.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a client, filling zero config values with defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("superauth/breach"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HashPassword returns the upper-case SHA-1 prefix and suffix of password.
func HashPassword(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return digest[:prefixLength], digest[prefixLength:]
}

// Check reports how often password appears in the breach corpus. Upstream
// failures yield a degraded result unless the policy is strict.
func (c *Client) Check(ctx context.Context, password string) (domain.BreachCheckResult, error) {
	if password == "" {
		return domain.BreachCheckResult{}, domain.ValidationError("password is required")
	}

	prefix, suffix := HashPassword(password)

	ctx, span := c.tracer.Start(ctx, "breach.Check", trace.WithAttributes(attribute.String("breach.prefix", prefix)))
	defer span.End()

	if body, ok := c.cachedRange(ctx, prefix); ok {
		count := matchSuffix(body, suffix)
		result := checkedResult(count, true, 0)
		span.SetAttributes(attribute.Bool("breach.cached", true), attribute.Int("breach.count", count))
		c.metrics.ObserveBreachCheck(string(result.Status), true, 0)
		return result, nil
	}

	started := c.now()
	body, reason, err := c.fetchRange(ctx, prefix)
	elapsed := c.now().Sub(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
		return c.degrade(ctx, reason, err, elapsed)
	}

	c.storeRange(ctx, prefix, body)

	count := matchSuffix(body, suffix)
	span.SetAttributes(attribute.Bool("breach.cached", false), attribute.Int("breach.count", count))
	result := checkedResult(count, false, elapsed)
	c.metrics.ObserveBreachCheck(string(result.Status), false, elapsed)
	return result, nil
}

func (c *Client) cachedRange(ctx context.Context, prefix string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	body, ok, err := c.cache.GetRange(ctx, prefix)
	if err != nil {
		c.logger.Warn("breach range cache read failed",
			zap.String("prefix", prefix),
			zap.String("reason", string(domain.DegradationReasonCacheFailed)),
			zap.Error(err),
		)
		return "", false
	}
	return body, ok
}

func (c *Client) storeRange(ctx context.Context, prefix, body string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetRange(ctx, prefix, body, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("breach range cache write failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func (c *Client) fetchRange(ctx context.Context, prefix string) (string, domain.DegradationReason, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if !c.limiter.Allow() {
		return "", domain.DegradationReasonThrottled, errThrottled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+prefix, nil)
	if err != nil {
		return "", domain.DegradationReasonTransport, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err), fmt.Errorf("breach request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		reason := domain.DegradationReasonUpstream
		if resp.StatusCode == http.StatusTooManyRequests {
			reason = domain.DegradationReasonThrottled
		}
		return "", reason, fmt.Errorf("breach api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", classifyTransportError(ctx, err), fmt.Errorf("read breach response: %w", err)
	}

	return string(body), "", nil
}

func classifyTransportError(ctx context.Context, err error) domain.DegradationReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.DegradationReasonTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return domain.DegradationReasonCancelled
	default:
		return domain.DegradationReasonTransport
	}
}

func (c *Client) degrade(ctx context.Context, reason domain.DegradationReason, cause error, elapsed time.Duration) (domain.BreachCheckResult, error) {
	c.logger.Warn("breach lookup degraded",
		zap.String("reason", string(reason)),
		zap.String("policy", string(c.cfg.Policy.Mode())),
		zap.Duration("elapsed", elapsed),
		zap.Error(cause),
	)
	c.metrics.ObserveBreachCheck(string(domain.BreachStatusDegraded), false, elapsed)

	if !c.cfg.Policy.AllowsFallback(reason) {
		return domain.BreachCheckResult{}, &domain.DegradedServiceError{Service: serviceName, Err: cause}
	}

	return domain.BreachCheckResult{
		Count:        0,
		RiskLevel:    domain.BreachRiskUnknown,
		Status:       domain.BreachStatusDegraded,
		ResponseTime: elapsed,
	}, nil
}

func checkedResult(count int, cached bool, elapsed time.Duration) domain.BreachCheckResult {
	return domain.BreachCheckResult{
		Count:        count,
		RiskLevel:    domain.BreachRiskLevelFor(count),
		Status:       domain.BreachStatusChecked,
		Cached:       cached,
		ResponseTime: elapsed,
	}
}

// matchSuffix scans SUFFIX:COUNT lines. Padding rows carry a zero count and never match.
func matchSuffix(body, suffix string) int {
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hashPart, countPart, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(hashPart), suffix) {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countPart))
		if err != nil || count <= 0 {
			continue
		}
		return count
	}
	return 0
}

var _ port.BreachChecker = (*Client)(nil)
