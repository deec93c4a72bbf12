package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

type memoryOTPRepo struct {
	mu    sync.Mutex
	codes []domain.OTPVerification

	// afterLoad runs once GetLatest has copied the row, outside the lock.
	afterLoad func()
}

func (m *memoryOTPRepo) Create(_ context.Context, otp domain.OTPVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, otp)
	return nil
}

func (m *memoryOTPRepo) GetLatest(_ context.Context, identifier string, purpose domain.OTPPurpose) (*domain.OTPVerification, error) {
	m.mu.Lock()
	var found *domain.OTPVerification
	for i := len(m.codes) - 1; i >= 0; i-- {
		if m.codes[i].Identifier == identifier && m.codes[i].Purpose == purpose {
			otp := m.codes[i]
			found = &otp
			break
		}
	}
	hook := m.afterLoad
	m.mu.Unlock()

	if found == nil {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return found, nil
}

func (m *memoryOTPRepo) find(id string) *domain.OTPVerification {
	for i := range m.codes {
		if m.codes[i].ID == id {
			return &m.codes[i]
		}
	}
	return nil
}

func (m *memoryOTPRepo) ReserveAttempt(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	otp := m.find(id)
	if otp == nil || otp.IsConsumed() || otp.IsExpired(now) || otp.AttemptsExhausted() {
		return false, nil
	}
	otp.Attempts++
	return true, nil
}

func (m *memoryOTPRepo) MarkVerified(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	otp := m.find(id)
	if otp == nil || otp.IsConsumed() || otp.Attempts > otp.MaxAttempts {
		return false, nil
	}
	otp.VerifiedAt = &at
	otp.UsedAt = &at
	return true, nil
}

func (m *memoryOTPRepo) InvalidatePending(_ context.Context, identifier string, purpose domain.OTPPurpose, at time.Time) (int, error) {
	n := 0
	for i := range m.codes {
		otp := &m.codes[i]
		if otp.Identifier == identifier && otp.Purpose == purpose && !otp.IsConsumed() {
			otp.UsedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memoryOTPRepo) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	kept := m.codes[:0]
	removed := 0
	for _, otp := range m.codes {
		if otp.IsExpired(before) {
			removed++
			continue
		}
		kept = append(kept, otp)
	}
	m.codes = kept
	return removed, nil
}

func newTestOTPService(repo *memoryOTPRepo, notifier *fakeNotifier, limits port.RateLimitStore, clock func() time.Time) *OTPService {
	codes := []string{"123456", "654321", "111222", "333444"}
	next := 0
	var n port.Notifier
	if notifier != nil {
		n = notifier
	}
	return NewOTPService(repo, plainHasher{}, n, limits, OTPConfig{MaxAttempts: 3, IssueLimit: 3, IssueWindow: 10 * time.Minute}, nil).
		WithClock(clock).
		WithCodeGenerator(func(int) (string, error) {
			code := codes[next%len(codes)]
			next++
			return code, nil
		})
}

func TestOTPService_GenerateStoresHashAndNotifies(t *testing.T) {
	repo := &memoryOTPRepo{}
	notifier := &fakeNotifier{}
	svc := newTestOTPService(repo, notifier, nil, fixedClock)

	issued, err := svc.Generate(context.Background(), GenerateOTPInput{Identifier: " User@Example.com ", Purpose: "Login"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if issued.Code != "" {
		t.Fatal("code must not be exposed unless configured")
	}
	if !issued.ExpiresAt.Equal(testNow.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", issued.ExpiresAt)
	}

	stored := repo.codes[0]
	if stored.CodeHash == "123456" || stored.CodeHash != "h:123456" {
		t.Fatalf("expected hashed code, got %q", stored.CodeHash)
	}
	if stored.Identifier != "user@example.com" || stored.Purpose != domain.OTPPurposeLogin || stored.MaxAttempts != 3 {
		t.Fatalf("unexpected stored otp: %+v", stored)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.template != "otp.login" || sent.recipient != "user@example.com" || sent.data["code"] != "123456" {
		t.Fatalf("unexpected notification: %+v", sent)
	}
}

func TestOTPService_GenerateInvalidatesPreviousCode(t *testing.T) {
	repo := &memoryOTPRepo{}
	svc := newTestOTPService(repo, nil, nil, fixedClock)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeVerification}); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeVerification}); err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if !repo.codes[0].IsConsumed() {
		t.Fatal("expected first code to be invalidated")
	}
	if err := svc.Verify(ctx, "a@b.c", domain.OTPPurposeVerification, "654321"); err != nil {
		t.Fatalf("latest code must verify: %v", err)
	}
}

func TestOTPService_GenerateValidation(t *testing.T) {
	svc := newTestOTPService(&memoryOTPRepo{}, nil, nil, fixedClock)

	if _, err := svc.Generate(context.Background(), GenerateOTPInput{Purpose: domain.OTPPurposeLogin}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty identifier, got %v", err)
	}
	if _, err := svc.Generate(context.Background(), GenerateOTPInput{Identifier: "x", Purpose: "sms"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown purpose, got %v", err)
	}
}

func TestOTPService_GenerateRateLimited(t *testing.T) {
	svc := newTestOTPService(&memoryOTPRepo{}, nil, newFakeRateLimitStore(), fixedClock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeLogin}); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeLogin}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeTwoFactor}); err != nil {
		t.Fatalf("other purposes have their own budget: %v", err)
	}
}

func TestOTPService_VerifyConsumesCode(t *testing.T) {
	repo := &memoryOTPRepo{}
	svc := newTestOTPService(repo, nil, nil, fixedClock)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeLogin}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := svc.Verify(ctx, "A@B.C", domain.OTPPurposeLogin, "123456"); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if err := svc.Verify(ctx, "a@b.c", domain.OTPPurposeLogin, "123456"); !errors.Is(err, domain.ErrOTPAlreadyUsed) {
		t.Fatalf("expected ErrOTPAlreadyUsed, got %v", err)
	}
	if err := svc.Verify(ctx, "a@b.c", domain.OTPPurposePasswordReset, "123456"); !errors.Is(err, domain.ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound for another purpose, got %v", err)
	}
}

func TestOTPService_AttemptsExhaustedRejectsCorrectCode(t *testing.T) {
	repo := &memoryOTPRepo{}
	svc := newTestOTPService(repo, nil, nil, fixedClock)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeLogin}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.Verify(ctx, "a@b.c", domain.OTPPurposeLogin, "000000"); !errors.Is(err, domain.ErrOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrOTPInvalid, got %v", i+1, err)
		}
	}

	err := svc.Verify(ctx, "a@b.c", domain.OTPPurposeLogin, "123456")
	if !errors.Is(err, domain.ErrOTPAttemptsExceeded) {
		t.Fatalf("expected ErrOTPAttemptsExceeded on the fourth attempt, got %v", err)
	}
	if repo.codes[0].VerifiedAt != nil {
		t.Fatal("code must not be verified after attempts are exhausted")
	}
}

func TestOTPService_ExpiredCode(t *testing.T) {
	repo := &memoryOTPRepo{}
	now := testNow
	svc := newTestOTPService(repo, nil, nil, func() time.Time { return now })
	ctx := context.Background()

	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeSecurity}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now = testNow.Add(11 * time.Minute)

	if err := svc.Verify(ctx, "a@b.c", domain.OTPPurposeSecurity, "123456"); !errors.Is(err, domain.ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}

	removed, err := svc.CleanupExpired(ctx)
	if err != nil || removed != 1 || len(repo.codes) != 0 {
		t.Fatalf("CleanupExpired: removed=%d err=%v remaining=%d", removed, err, len(repo.codes))
	}
}

func TestOTPService_NotificationFailureStillIssues(t *testing.T) {
	repo := &memoryOTPRepo{}
	svc := newTestOTPService(repo, &fakeNotifier{err: errTest}, nil, fixedClock)
	svc.cfg.ExposeCode = true

	issued, err := svc.Generate(context.Background(), GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeLogin, Recipient: "+15550100"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if issued.Code != "123456" {
		t.Fatalf("expected exposed code, got %q", issued.Code)
	}
	if len(repo.codes) != 1 {
		t.Fatal("code must be stored even when delivery fails")
	}
}

func TestOTPService_ConcurrentVerifyHonoursAttemptBudget(t *testing.T) {
	repo := &memoryOTPRepo{}
	svc := newTestOTPService(repo, nil, nil, fixedClock)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, GenerateOTPInput{Identifier: "a@b.c", Purpose: domain.OTPPurposeLogin}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	const callers = 10
	var loaded sync.WaitGroup
	loaded.Add(callers)
	var arrivals atomic.Int32
	repo.afterLoad = func() {
		// only the first load of each caller waits; re-reads after a lost reservation pass through
		if arrivals.Add(1) > callers {
			return
		}
		loaded.Done()
		loaded.Wait()
	}

	errs := make([]error, callers)
	var done sync.WaitGroup
	for i := 0; i < callers; i++ {
		code := "000000"
		if i == callers-1 {
			code = "123456"
		}
		done.Add(1)
		go func(i int, code string) {
			defer done.Done()
			errs[i] = svc.Verify(ctx, "a@b.c", domain.OTPPurposeLogin, code)
		}(i, code)
	}
	done.Wait()

	spent := 0
	for i, err := range errs {
		switch {
		case errors.Is(err, domain.ErrOTPAttemptsExceeded):
		case err == nil, errors.Is(err, domain.ErrOTPInvalid):
			spent++
		default:
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}
	if spent != 3 {
		t.Fatalf("expected exactly 3 callers to spend an attempt, got %d", spent)
	}
	if got := repo.codes[0].Attempts; got != 3 {
		t.Fatalf("attempts must stop at the budget, got %d", got)
	}
}
