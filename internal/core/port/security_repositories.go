package port

import (
	"context"
	"time"

	"github.com/arklim/superauth/internal/core/domain"
)

// LoginHistoryRepository persists scored login attempts.
type LoginHistoryRepository interface {
	Create(ctx context.Context, entry domain.LoginHistory) error
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]domain.LoginHistory, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int, error)
}

// BreachRecordRepository persists breach check outcomes.
type BreachRecordRepository interface {
	Create(ctx context.Context, record domain.PasswordBreachRecord) error
	DeleteCheckedBefore(ctx context.Context, before time.Time) (int, error)
}

// OTPRepository persists one-time codes.
type OTPRepository interface {
	Create(ctx context.Context, otp domain.OTPVerification) error
	// GetLatest returns the most recently issued code for identifier and purpose, in any state.
	GetLatest(ctx context.Context, identifier string, purpose domain.OTPPurpose) (*domain.OTPVerification, error)
	// ReserveAttempt spends one attempt on a pending, unexpired code with budget left.
	// It reports false when no attempt could be reserved.
	ReserveAttempt(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkVerified consumes the code. It reports false when another caller consumed it first
	// or the attempt budget was overrun.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	InvalidatePending(ctx context.Context, identifier string, purpose domain.OTPPurpose, at time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
