package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/security"
)

type stubBreachChecker struct {
	result domain.BreachCheckResult
	err    error
	calls  int
}

func (s *stubBreachChecker) Check(_ context.Context, _ string) (domain.BreachCheckResult, error) {
	s.calls++
	return s.result, s.err
}

type memoryBreachRecords struct {
	records []domain.PasswordBreachRecord
	cutoff  time.Time
	err     error
}

func (m *memoryBreachRecords) Create(_ context.Context, record domain.PasswordBreachRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memoryBreachRecords) DeleteCheckedBefore(_ context.Context, before time.Time) (int, error) {
	m.cutoff = before
	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if r.CheckedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

func newTestPasswordService(breach *stubBreachChecker, records *memoryBreachRecords, limits *fakeRateLimitStore) *PasswordService {
	var store port.RateLimitStore
	if limits != nil {
		store = limits
	}
	svc := NewPasswordService(
		security.NewPasswordStrengthAnalyzer(nil),
		breach,
		records,
		upperFingerprinter{},
		store,
		PasswordServiceConfig{CheckLimit: 2, CheckWindow: time.Minute, RecordRetention: 24 * time.Hour},
		nil,
	)
	return svc.WithClock(fixedClock)
}

func TestPasswordService_CheckPasswordCombinesAnalysisAndBreach(t *testing.T) {
	breach := &stubBreachChecker{result: domain.BreachCheckResult{Count: 5, RiskLevel: domain.BreachRiskLow, Status: domain.BreachStatusChecked, ResponseTime: 42 * time.Millisecond}}
	records := &memoryBreachRecords{}
	svc := newTestPasswordService(breach, records, nil)

	result, err := svc.CheckPassword(context.Background(), PasswordCheckInput{Password: "Tr0ub4dor&3", UserID: stringPtr(" u-1 ")})
	if err != nil {
		t.Fatalf("CheckPassword returned error: %v", err)
	}
	if result.Breach.Count != 5 || result.Breach.RiskLevel != domain.BreachRiskLow {
		t.Fatalf("unexpected breach result: %+v", result.Breach)
	}
	if result.Analysis.Score == 0 || result.Analysis.Strength == "" {
		t.Fatalf("expected analysis to be populated: %+v", result.Analysis)
	}

	if len(records.records) != 1 {
		t.Fatalf("expected one breach record, got %d", len(records.records))
	}
	record := records.records[0]
	if record.PasswordHash != "fp:TR0UB4DOR&3" {
		t.Fatalf("expected fingerprint, got %q", record.PasswordHash)
	}
	if record.UserID == nil || *record.UserID != "u-1" {
		t.Fatalf("expected trimmed user id, got %+v", record.UserID)
	}
	if record.APIResponseTimeMs != 42 || !record.CheckedAt.Equal(testNow) {
		t.Fatalf("unexpected record metadata: %+v", record)
	}
}

func TestPasswordService_DegradedBreachIsNotSafe(t *testing.T) {
	breach := &stubBreachChecker{result: domain.BreachCheckResult{RiskLevel: domain.BreachRiskUnknown, Status: domain.BreachStatusDegraded}}
	svc := newTestPasswordService(breach, &memoryBreachRecords{}, nil)

	result, err := svc.CheckPassword(context.Background(), PasswordCheckInput{Password: "whatever"})
	if err != nil {
		t.Fatalf("CheckPassword returned error: %v", err)
	}
	if !result.Breach.Degraded() || result.Breach.RiskLevel == domain.BreachRiskNone {
		t.Fatalf("degraded check must not look safe: %+v", result.Breach)
	}
}

func TestPasswordService_StrictDegradationSurfaces(t *testing.T) {
	breach := &stubBreachChecker{err: &domain.DegradedServiceError{Service: "breach_api", Err: errTest}}
	svc := newTestPasswordService(breach, &memoryBreachRecords{}, nil)

	_, err := svc.CheckPassword(context.Background(), PasswordCheckInput{Password: "whatever"})
	if !errors.Is(err, domain.ErrDegradedService) {
		t.Fatalf("expected ErrDegradedService, got %v", err)
	}
}

func TestPasswordService_RecordFailureDoesNotFailCheck(t *testing.T) {
	breach := &stubBreachChecker{result: domain.BreachCheckResult{RiskLevel: domain.BreachRiskNone, Status: domain.BreachStatusChecked}}
	svc := newTestPasswordService(breach, &memoryBreachRecords{err: errTest}, nil)

	if _, err := svc.CheckPassword(context.Background(), PasswordCheckInput{Password: "whatever"}); err != nil {
		t.Fatalf("persistence failure must not fail the check: %v", err)
	}
}

func TestPasswordService_NilBreachCheckerReportsUnknown(t *testing.T) {
	svc := NewPasswordService(security.NewPasswordStrengthAnalyzer(nil), nil, nil, nil, nil, PasswordServiceConfig{}, nil)

	result, err := svc.CheckPassword(context.Background(), PasswordCheckInput{Password: "whatever"})
	if err != nil {
		t.Fatalf("CheckPassword returned error: %v", err)
	}
	if result.Breach.RiskLevel != domain.BreachRiskUnknown || !result.Breach.Degraded() {
		t.Fatalf("expected unknown degraded breach result, got %+v", result.Breach)
	}
}

func TestPasswordService_Validation(t *testing.T) {
	svc := newTestPasswordService(&stubBreachChecker{}, &memoryBreachRecords{}, nil)

	if _, err := svc.CheckPassword(context.Background(), PasswordCheckInput{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.AnalyzePassword(""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPasswordService_RateLimitsPerClient(t *testing.T) {
	breach := &stubBreachChecker{result: domain.BreachCheckResult{Status: domain.BreachStatusChecked, RiskLevel: domain.BreachRiskNone}}
	svc := newTestPasswordService(breach, &memoryBreachRecords{}, newFakeRateLimitStore())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.CheckPassword(ctx, PasswordCheckInput{Password: "pw", ClientKey: "203.0.113.9"}); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := svc.CheckPassword(ctx, PasswordCheckInput{Password: "pw", ClientKey: "203.0.113.9"}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if breach.calls != 2 {
		t.Fatalf("throttled request must not reach the breach API, got %d calls", breach.calls)
	}
	if _, err := svc.CheckPassword(ctx, PasswordCheckInput{Password: "pw", ClientKey: "198.51.100.1"}); err != nil {
		t.Fatalf("other clients must not be throttled: %v", err)
	}
}

func TestPasswordService_PurgeBreachRecords(t *testing.T) {
	records := &memoryBreachRecords{records: []domain.PasswordBreachRecord{
		{ID: "old", CheckedAt: testNow.Add(-48 * time.Hour)},
		{ID: "new", CheckedAt: testNow.Add(-time.Hour)},
	}}
	svc := newTestPasswordService(&stubBreachChecker{}, records, nil)

	n, err := svc.PurgeBreachRecords(context.Background())
	if err != nil {
		t.Fatalf("PurgeBreachRecords returned error: %v", err)
	}
	if n != 1 || len(records.records) != 1 || records.records[0].ID != "new" {
		t.Fatalf("unexpected purge result n=%d records=%+v", n, records.records)
	}
	if !records.cutoff.Equal(testNow.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", records.cutoff)
	}
}
