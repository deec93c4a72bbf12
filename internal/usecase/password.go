package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/telemetry"
)

// PasswordCheckInput is the payload for a combined strength and breach check.
type PasswordCheckInput struct {
	Password string
	UserID   *string
	// ClientKey identifies the caller for throttling, usually the client IP.
	ClientKey string
}

// PasswordServiceConfig tunes throttling and retention.
type PasswordServiceConfig struct {
	CheckLimit      int
	CheckWindow     time.Duration
	RecordRetention time.Duration
}

// PasswordService combines the strength analyzer with the breach lookup.
type PasswordService struct {
	analyzer      port.PasswordAnalyzer
	breach        port.BreachChecker
	records       port.BreachRecordRepository
	fingerprinter port.Fingerprinter
	limiter       *slidingWindowLimiter
	cfg           PasswordServiceConfig
	metrics       *telemetry.DomainMetrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewPasswordService constructs a PasswordService. breach may be nil when lookups are disabled.
func NewPasswordService(
	analyzer port.PasswordAnalyzer,
	breach port.BreachChecker,
	records port.BreachRecordRepository,
	fingerprinter port.Fingerprinter,
	limits port.RateLimitStore,
	cfg PasswordServiceConfig,
	logger *zap.Logger,
) *PasswordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordService{
		analyzer:      analyzer,
		breach:        breach,
		records:       records,
		fingerprinter: fingerprinter,
		limiter:       newSlidingWindowLimiter(limits, "password_check", cfg.CheckLimit, cfg.CheckWindow, logger),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// WithMetrics records purge results on metrics.
func (s *PasswordService) WithMetrics(metrics *telemetry.DomainMetrics) *PasswordService {
	s.metrics = metrics
	return s
}

// WithClock overrides the time source.
func (s *PasswordService) WithClock(now func() time.Time) *PasswordService {
	if now != nil {
		s.now = now
	}
	return s
}

// AnalyzePassword scores the password locally without any I/O.
func (s *PasswordService) AnalyzePassword(password string) (domain.PasswordAnalysis, error) {
	if password == "" {
		return domain.PasswordAnalysis{}, domain.ValidationError("password is required")
	}
	return s.analyzer.Analyze(password), nil
}

// CheckPassword analyzes the password and looks it up in the breach corpus.
// A degraded lookup is reported in the result, not as an error, unless the breach
// client runs under the strict policy.
func (s *PasswordService) CheckPassword(ctx context.Context, input PasswordCheckInput) (domain.PasswordCheckResult, error) {
	if input.Password == "" {
		return domain.PasswordCheckResult{}, domain.ValidationError("password is required")
	}

	if err := s.limiter.Allow(ctx, input.ClientKey, s.now()); err != nil {
		return domain.PasswordCheckResult{}, err
	}

	result := domain.PasswordCheckResult{Analysis: s.analyzer.Analyze(input.Password)}

	if s.breach == nil {
		result.Breach = domain.BreachCheckResult{RiskLevel: domain.BreachRiskUnknown, Status: domain.BreachStatusDegraded}
		return result, nil
	}

	breach, err := s.breach.Check(ctx, input.Password)
	if err != nil {
		if errors.Is(err, domain.ErrDegradedService) {
			s.logger.Warn("breach check degraded under strict policy", zap.Error(err))
		}
		return domain.PasswordCheckResult{}, err
	}
	result.Breach = breach

	s.saveRecord(ctx, input, breach)
	return result, nil
}

// PurgeBreachRecords deletes breach records older than the retention window.
func (s *PasswordService) PurgeBreachRecords(ctx context.Context) (int, error) {
	if s.records == nil || s.cfg.RecordRetention <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.cfg.RecordRetention)
	n, err := s.records.DeleteCheckedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge breach records: %w", err)
	}
	s.metrics.ObserveCleanup("breach_records", n)
	return n, nil
}

// saveRecord persists the outcome. Failures are logged; the check result is still returned.
func (s *PasswordService) saveRecord(ctx context.Context, input PasswordCheckInput, breach domain.BreachCheckResult) {
	if s.records == nil || s.fingerprinter == nil {
		return
	}

	var userID *string
	if input.UserID != nil && strings.TrimSpace(*input.UserID) != "" {
		trimmed := strings.TrimSpace(*input.UserID)
		userID = &trimmed
	}

	record := domain.PasswordBreachRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		PasswordHash:      s.fingerprinter.Fingerprint(input.Password),
		BreachCount:       breach.Count,
		RiskLevel:         breach.RiskLevel,
		Status:            breach.Status,
		APIResponseTimeMs: breach.ResponseTime.Milliseconds(),
		CheckedAt:         s.now().UTC(),
	}
	if err := s.records.Create(ctx, record); err != nil {
		s.logger.Warn("persist breach record failed", zap.Error(err))
	}
}
