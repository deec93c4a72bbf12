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
	"github.com/arklim/superauth/internal/infra/logger"
	"github.com/arklim/superauth/internal/infra/security"
	"github.com/arklim/superauth/internal/infra/telemetry"
	"github.com/arklim/superauth/internal/repository"
)

// OTPConfig tunes code generation and issuance throttling.
type OTPConfig struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	IssueLimit  int
	IssueWindow time.Duration
	// ExposeCode returns the plain code to the caller. Only for tests and local development.
	ExposeCode bool
}

// GenerateOTPInput is the payload for issuing a code.
type GenerateOTPInput struct {
	Identifier string
	Purpose    domain.OTPPurpose
	// Recipient is where the notifier delivers the code; defaults to Identifier.
	Recipient string
}

// OTPService issues and verifies one-time codes.
type OTPService struct {
	otps     port.OTPRepository
	hasher   port.SecretHasher
	notifier port.Notifier
	limiter  *slidingWindowLimiter
	cfg      OTPConfig
	generate func(length int) (string, error)
	metrics  *telemetry.DomainMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewOTPService constructs an OTPService.
func NewOTPService(otps port.OTPRepository, hasher port.SecretHasher, notifier port.Notifier, limits port.RateLimitStore, cfg OTPConfig, logger *zap.Logger) *OTPService {
	if cfg.Length <= 0 {
		cfg.Length = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{
		otps:     otps,
		hasher:   hasher,
		notifier: notifier,
		limiter:  newSlidingWindowLimiter(limits, "otp_issue", cfg.IssueLimit, cfg.IssueWindow, logger),
		cfg:      cfg,
		generate: security.GenerateNumericCode,
		logger:   logger,
		now:      time.Now,
	}
}

// WithCodeGenerator overrides the code source.
func (s *OTPService) WithCodeGenerator(generate func(length int) (string, error)) *OTPService {
	if generate != nil {
		s.generate = generate
	}
	return s
}

// WithMetrics records cleanup results on metrics.
func (s *OTPService) WithMetrics(metrics *telemetry.DomainMetrics) *OTPService {
	s.metrics = metrics
	return s
}

// WithClock overrides the time source.
func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	if now != nil {
		s.now = now
	}
	return s
}

// Generate issues a new code and invalidates older pending codes for the same identifier and purpose.
func (s *OTPService) Generate(ctx context.Context, input GenerateOTPInput) (domain.OTPIssued, error) {
	identifier := normalizeIdentifier(input.Identifier)
	if identifier == "" {
		return domain.OTPIssued{}, domain.ValidationError("identifier is required")
	}
	purpose, ok := domain.ParseOTPPurpose(string(input.Purpose))
	if !ok {
		return domain.OTPIssued{}, domain.ValidationError("unsupported otp purpose %q", input.Purpose)
	}

	now := s.now().UTC()
	if err := s.limiter.Allow(ctx, identifier+":"+string(purpose), now); err != nil {
		return domain.OTPIssued{}, err
	}

	code, err := s.generate(s.cfg.Length)
	if err != nil {
		return domain.OTPIssued{}, fmt.Errorf("generate otp: %w", err)
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return domain.OTPIssued{}, fmt.Errorf("hash otp: %w", err)
	}

	if _, err := s.otps.InvalidatePending(ctx, identifier, purpose, now); err != nil {
		return domain.OTPIssued{}, fmt.Errorf("invalidate pending otps: %w", err)
	}

	otp := domain.OTPVerification{
		ID:          uuid.NewString(),
		Identifier:  identifier,
		Purpose:     purpose,
		CodeHash:    hash,
		ExpiresAt:   now.Add(s.cfg.TTL),
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return domain.OTPIssued{}, fmt.Errorf("store otp: %w", err)
	}

	recipient := strings.TrimSpace(input.Recipient)
	if recipient == "" {
		recipient = identifier
	}
	if s.notifier != nil {
		err := s.notifier.Send(ctx, recipient, "otp."+string(purpose), map[string]any{
			"code":       code,
			"purpose":    string(purpose),
			"expires_at": otp.ExpiresAt,
		})
		if err != nil {
			s.logger.Warn("otp notification failed",
				zap.String("identifier", logger.MaskIdentifier(identifier)),
				zap.String("purpose", string(purpose)),
				zap.Error(err),
			)
		}
	}

	issued := domain.OTPIssued{ID: otp.ID, ExpiresAt: otp.ExpiresAt}
	if s.cfg.ExposeCode {
		issued.Code = code
	}
	return issued, nil
}

// Verify checks code against the latest code issued for identifier and purpose.
// Every comparison spends one attempt, reserved atomically before the hash is checked;
// once the budget is spent even the right code is rejected.
func (s *OTPService) Verify(ctx context.Context, identifier string, purpose domain.OTPPurpose, code string) error {
	identifier = normalizeIdentifier(identifier)
	code = strings.TrimSpace(code)
	if identifier == "" || code == "" {
		return domain.ValidationError("identifier and code are required")
	}
	parsed, ok := domain.ParseOTPPurpose(string(purpose))
	if !ok {
		return domain.ValidationError("unsupported otp purpose %q", purpose)
	}

	otp, err := s.otps.GetLatest(ctx, identifier, parsed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrOTPNotFound
		}
		return fmt.Errorf("load otp: %w", err)
	}

	now := s.now().UTC()
	if err := otpState(otp, now); err != nil {
		return err
	}

	reserved, err := s.otps.ReserveAttempt(ctx, otp.ID, now)
	if err != nil {
		return fmt.Errorf("reserve otp attempt: %w", err)
	}
	if !reserved {
		return s.rejectionFor(ctx, identifier, parsed, now)
	}

	match, err := s.hasher.Verify(code, otp.CodeHash)
	if err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}
	if !match {
		return domain.ErrOTPInvalid
	}

	consumed, err := s.otps.MarkVerified(ctx, otp.ID, now)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !consumed {
		return domain.ErrOTPAlreadyUsed
	}
	return nil
}

// otpState rejects codes that can no longer be verified.
func otpState(otp *domain.OTPVerification, now time.Time) error {
	switch {
	case otp.IsConsumed():
		return domain.ErrOTPAlreadyUsed
	case otp.IsExpired(now):
		return domain.ErrOTPExpired
	case otp.AttemptsExhausted():
		return domain.ErrOTPAttemptsExceeded
	}
	return nil
}

// rejectionFor explains a lost reservation race by re-reading the code.
func (s *OTPService) rejectionFor(ctx context.Context, identifier string, purpose domain.OTPPurpose, now time.Time) error {
	otp, err := s.otps.GetLatest(ctx, identifier, purpose)
	if err != nil {
		return domain.ErrOTPAttemptsExceeded
	}
	if err := otpState(otp, now); err != nil {
		return err
	}
	return domain.ErrOTPAttemptsExceeded
}

// CleanupExpired purges expired codes.
func (s *OTPService) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.otps.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	s.metrics.ObserveCleanup("expired_otps", n)
	return n, nil
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
