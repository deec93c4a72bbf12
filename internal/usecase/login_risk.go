package usecase

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/logger"
	"github.com/arklim/superauth/internal/infra/telemetry"
)

const (
	diversityWindow     = 7 * 24 * time.Hour
	unusualHourDistance = 6.0
	confidencePerRecord = 10
)

// LoginRiskConfig tunes the heuristics.
type LoginRiskConfig struct {
	HistoryWindow      time.Duration
	RapidWindow        time.Duration
	RapidThreshold     int
	UnusualThreshold   int
	HighRiskIPFailures int
	HistoryRetention   time.Duration
}

// DefaultLoginRiskConfig returns the stock thresholds.
func DefaultLoginRiskConfig() LoginRiskConfig {
	return LoginRiskConfig{
		HistoryWindow:      30 * 24 * time.Hour,
		RapidWindow:        10 * time.Minute,
		RapidThreshold:     5,
		UnusualThreshold:   50,
		HighRiskIPFailures: 3,
		HistoryRetention:   90 * 24 * time.Hour,
	}
}

func (c LoginRiskConfig) withDefaults() LoginRiskConfig {
	def := DefaultLoginRiskConfig()
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.RapidWindow <= 0 {
		c.RapidWindow = def.RapidWindow
	}
	if c.RapidThreshold <= 0 {
		c.RapidThreshold = def.RapidThreshold
	}
	if c.UnusualThreshold <= 0 {
		c.UnusualThreshold = def.UnusualThreshold
	}
	if c.HighRiskIPFailures <= 0 {
		c.HighRiskIPFailures = def.HighRiskIPFailures
	}
	return c
}

// LoginRiskScorer is a deterministic heuristic scorer. It performs no I/O.
type LoginRiskScorer struct {
	cfg LoginRiskConfig
}

// NewLoginRiskScorer constructs a scorer; zero config fields take defaults.
func NewLoginRiskScorer(cfg LoginRiskConfig) *LoginRiskScorer {
	return &LoginRiskScorer{cfg: cfg.withDefaults()}
}

// Score assesses event against the user's prior history. Entries at or after the
// event time are ignored.
func (s *LoginRiskScorer) Score(event domain.LoginEvent, history []domain.LoginHistory, now time.Time) domain.LoginRiskAssessment {
	at := event.AttemptedAt
	if at.IsZero() {
		at = now
	}

	prior := make([]domain.LoginHistory, 0, len(history))
	for _, h := range history {
		if h.AttemptedAt.Before(at) {
			prior = append(prior, h)
		}
	}

	var anomalies []domain.Anomaly
	add := func(a domain.Anomaly) { anomalies = append(anomalies, a) }

	if a, ok := unusualTime(at, prior); ok {
		add(a)
	}
	if a, ok := unseenValue(domain.AnomalyUnusualCountry, domain.SeverityHigh, "country", event.Country, prior,
		func(h domain.LoginHistory) string { return h.Country }); ok {
		add(a)
	}
	if a, ok := unseenValue(domain.AnomalyUnusualDevice, domain.SeverityMedium, "device", event.Device, prior,
		func(h domain.LoginHistory) string { return h.Device }); ok {
		add(a)
	}
	if a, ok := s.rapidAttempts(at, prior); ok {
		add(a)
	}
	if a, ok := newIP(event.IPAddress, at, prior); ok {
		add(a)
	}

	assessment := domain.LoginRiskAssessment{
		RiskScore:       diversityScore(event, at, prior),
		Anomalies:       anomalies,
		ConfidenceScore: min(len(prior)*confidencePerRecord, 100),
		IsHighRiskIP:    s.isHighRiskIP(event, prior),
	}
	if assessment.Anomalies == nil {
		assessment.Anomalies = []domain.Anomaly{}
	}

	for _, a := range anomalies {
		assessment.AnomalyScore += a.Severity.Weight()
		if assessment.HighestSeverity == "" || a.Severity.Weight() > assessment.HighestSeverity.Weight() {
			assessment.HighestSeverity = a.Severity
		}
	}
	assessment.AnomalyScore = min(assessment.AnomalyScore, 100)
	assessment.IsUnusual = assessment.AnomalyScore >= s.cfg.UnusualThreshold ||
		(assessment.HighestSeverity != "" && assessment.HighestSeverity.AtLeast(domain.SeverityHigh))

	return assessment
}

func unusualTime(at time.Time, prior []domain.LoginHistory) (domain.Anomaly, bool) {
	if len(prior) == 0 {
		return domain.Anomaly{}, false
	}
	sum := 0
	for _, h := range prior {
		sum += h.AttemptedAt.UTC().Hour()
	}
	mean := float64(sum) / float64(len(prior))
	hour := at.UTC().Hour()
	if math.Abs(float64(hour)-mean) <= unusualHourDistance {
		return domain.Anomaly{}, false
	}
	return domain.Anomaly{
		Type:     domain.AnomalyUnusualTime,
		Severity: domain.SeverityLow,
		Message:  fmt.Sprintf("login at %02d:00 UTC is far from the usual hour", hour),
		Data:     map[string]any{"hour": hour, "mean_hour": math.Round(mean*10) / 10},
	}, true
}

// unseenValue flags a value that never appears in prior history. It stays silent when the
// history has no recorded values, so brand-new accounts are not flagged.
func unseenValue(kind domain.AnomalyType, severity domain.Severity, field, value string, prior []domain.LoginHistory, pick func(domain.LoginHistory) string) (domain.Anomaly, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Anomaly{}, false
	}
	seen := make(map[string]struct{})
	for _, h := range prior {
		if v := strings.TrimSpace(pick(h)); v != "" {
			seen[strings.ToLower(v)] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return domain.Anomaly{}, false
	}
	if _, ok := seen[strings.ToLower(value)]; ok {
		return domain.Anomaly{}, false
	}

	return domain.Anomaly{
		Type:     kind,
		Severity: severity,
		Message:  fmt.Sprintf("login from a previously unseen %s", field),
		Data:     map[string]any{field: value, "known_count": len(seen)},
	}, true
}

func (s *LoginRiskScorer) rapidAttempts(at time.Time, prior []domain.LoginHistory) (domain.Anomaly, bool) {
	since := at.Add(-s.cfg.RapidWindow)
	count := 0
	for _, h := range prior {
		if !h.AttemptedAt.Before(since) {
			count++
		}
	}
	if count <= s.cfg.RapidThreshold {
		return domain.Anomaly{}, false
	}
	return domain.Anomaly{
		Type:     domain.AnomalyRapidAttempts,
		Severity: domain.SeverityHigh,
		Message:  fmt.Sprintf("%d login attempts in the last %s", count, s.cfg.RapidWindow),
		Data:     map[string]any{"attempts": count, "window_seconds": int(s.cfg.RapidWindow.Seconds())},
	}, true
}

func newIP(ip string, at time.Time, prior []domain.LoginHistory) (domain.Anomaly, bool) {
	ip = strings.TrimSpace(ip)
	if ip == "" || isLoopback(ip) {
		return domain.Anomaly{}, false
	}
	since := at.Add(-diversityWindow)
	for _, h := range prior {
		if h.IPAddress == ip && !h.AttemptedAt.Before(since) {
			return domain.Anomaly{}, false
		}
	}
	return domain.Anomaly{
		Type:     domain.AnomalyNewIP,
		Severity: domain.SeverityMedium,
		Message:  "login from an IP address not seen in the last 7 days",
		Data:     map[string]any{"ip_address": logger.MaskIP(ip)},
	}, true
}

func isLoopback(ip string) bool {
	if strings.EqualFold(ip, "localhost") {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// diversityScore counts distinct IPs, countries and devices over the last 7 days,
// the current event included.
func diversityScore(event domain.LoginEvent, at time.Time, prior []domain.LoginHistory) int {
	since := at.Add(-diversityWindow)
	ips := distinctSet(event.IPAddress)
	countries := distinctSet(event.Country)
	devices := distinctSet(event.Device)
	for _, h := range prior {
		if h.AttemptedAt.Before(since) {
			continue
		}
		addDistinct(ips, h.IPAddress)
		addDistinct(countries, h.Country)
		addDistinct(devices, h.Device)
	}

	score := 0
	if len(ips) > 3 {
		score += 20
	}
	if len(countries) > 2 {
		score += 30
	}
	if len(devices) > 2 {
		score += 15
	}
	return min(score, 100)
}

func distinctSet(first string) map[string]struct{} {
	set := make(map[string]struct{})
	addDistinct(set, first)
	return set
}

func addDistinct(set map[string]struct{}, value string) {
	if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
		set[value] = struct{}{}
	}
}

func (s *LoginRiskScorer) isHighRiskIP(event domain.LoginEvent, prior []domain.LoginHistory) bool {
	ip := strings.TrimSpace(event.IPAddress)
	if ip == "" {
		return false
	}
	failures := 0
	if !event.Success {
		failures++
	}
	for _, h := range prior {
		if h.IPAddress == ip && !h.Success {
			failures++
		}
	}
	return failures >= s.cfg.HighRiskIPFailures
}

// LoginRiskService scores logins against stored history and records the outcome.
// It is advisory: the caller decides whether to act on the assessment.
type LoginRiskService struct {
	history  port.LoginHistoryRepository
	scorer   *LoginRiskScorer
	events   port.EventPublisher
	notifier port.Notifier
	cfg      LoginRiskConfig
	metrics  *telemetry.DomainMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewLoginRiskService constructs a LoginRiskService.
func NewLoginRiskService(history port.LoginHistoryRepository, events port.EventPublisher, notifier port.Notifier, cfg LoginRiskConfig, logger *zap.Logger) *LoginRiskService {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginRiskService{
		history:  history,
		scorer:   NewLoginRiskScorer(cfg),
		events:   events,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithMetrics records risk scores and purges on metrics.
func (s *LoginRiskService) WithMetrics(metrics *telemetry.DomainMetrics) *LoginRiskService {
	s.metrics = metrics
	return s
}

// WithClock overrides the time source.
func (s *LoginRiskService) WithClock(now func() time.Time) *LoginRiskService {
	if now != nil {
		s.now = now
	}
	return s
}

// ScoreLogin scores the event, appends it to the history and alerts on high severity anomalies.
func (s *LoginRiskService) ScoreLogin(ctx context.Context, event domain.LoginEvent) (domain.LoginRiskAssessment, error) {
	event.UserID = strings.TrimSpace(event.UserID)
	if event.UserID == "" {
		return domain.LoginRiskAssessment{}, domain.ValidationError("user id is required")
	}
	now := s.now().UTC()
	if event.AttemptedAt.IsZero() {
		event.AttemptedAt = now
	}

	history, err := s.history.ListByUserSince(ctx, event.UserID, event.AttemptedAt.Add(-s.cfg.HistoryWindow))
	if err != nil {
		return domain.LoginRiskAssessment{}, fmt.Errorf("load login history: %w", err)
	}

	assessment := s.scorer.Score(event, history, now)
	s.metrics.ObserveRiskScore(assessment.RiskScore)

	s.record(ctx, event, assessment)

	if assessment.HighestSeverity != "" && assessment.HighestSeverity.AtLeast(domain.SeverityHigh) {
		s.alert(ctx, event, assessment)
	}

	log := logger.Annotate(s.logger, ctx)
	log.Debug("login scored",
		zap.String("user_id", event.UserID),
		zap.String("ip", logger.MaskIP(event.IPAddress)),
		zap.Int("risk_score", assessment.RiskScore),
		zap.Int("anomaly_score", assessment.AnomalyScore),
		zap.Int("anomalies", len(assessment.Anomalies)),
	)

	return assessment, nil
}

// PurgeLoginHistory deletes records older than the retention window.
func (s *LoginRiskService) PurgeLoginHistory(ctx context.Context) (int, error) {
	if s.cfg.HistoryRetention <= 0 {
		return 0, nil
	}
	n, err := s.history.DeleteOlderThan(ctx, s.now().UTC().Add(-s.cfg.HistoryRetention))
	if err != nil {
		return 0, fmt.Errorf("purge login history: %w", err)
	}
	s.metrics.ObserveCleanup("login_history", n)
	return n, nil
}

func (s *LoginRiskService) record(ctx context.Context, event domain.LoginEvent, assessment domain.LoginRiskAssessment) {
	entry := domain.LoginHistory{
		ID:              uuid.NewString(),
		UserID:          event.UserID,
		IPAddress:       event.IPAddress,
		UserAgent:       event.UserAgent,
		Device:          event.Device,
		Browser:         event.Browser,
		OS:              event.OS,
		Country:         event.Country,
		City:            event.City,
		Success:         event.Success,
		RiskScore:       assessment.RiskScore,
		AnomalyScore:    assessment.AnomalyScore,
		ConfidenceScore: assessment.ConfidenceScore,
		IsUnusual:       assessment.IsUnusual,
		IsHighRiskIP:    assessment.IsHighRiskIP,
		Anomalies:       assessment.Anomalies,
		AttemptedAt:     event.AttemptedAt.UTC(),
	}
	if reason := strings.TrimSpace(event.FailureReason); reason != "" {
		entry.FailureReason = &reason
	}

	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("persist login history failed", zap.String("user_id", event.UserID), zap.Error(err))
	}
}

func (s *LoginRiskService) alert(ctx context.Context, event domain.LoginEvent, assessment domain.LoginRiskAssessment) {
	if s.events != nil {
		err := s.events.PublishLoginAnomaly(ctx, domain.LoginAnomalyDetectedEvent{
			EventID:    uuid.NewString(),
			UserID:     event.UserID,
			IPAddress:  event.IPAddress,
			RiskScore:  assessment.RiskScore,
			Anomalies:  assessment.Anomalies,
			DetectedAt: s.now().UTC(),
		})
		if err != nil {
			s.logger.Warn("publish login anomaly failed", zap.String("user_id", event.UserID), zap.Error(err))
		}
	}

	if s.notifier != nil {
		types := make([]string, 0, len(assessment.Anomalies))
		for _, a := range assessment.Anomalies {
			types = append(types, string(a.Type))
		}
		err := s.notifier.Send(ctx, event.UserID, "security.login_anomaly", map[string]any{
			"ip_address":   event.IPAddress,
			"country":      event.Country,
			"device":       event.Device,
			"risk_score":   assessment.RiskScore,
			"anomalies":    types,
			"attempted_at": event.AttemptedAt.UTC(),
		})
		if err != nil {
			s.logger.Warn("login anomaly notification failed", zap.String("user_id", event.UserID), zap.Error(err))
		}
	}
}
