package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

var otpColumns = []string{
	"id", "identifier", "purpose", "code_hash", "expires_at", "used_at", "verified_at",
	"attempts", "max_attempts", "created_at",
}

// OTPRepository persists one-time codes.
type OTPRepository struct {
	db      pgDB
	builder squirrel.StatementBuilderType
}

// NewOTPRepository constructs a PostgreSQL-backed OTP repository.
func NewOTPRepository(db pgDB) *OTPRepository {
	return &OTPRepository{db: db, builder: newBuilder()}
}

// Create stores a freshly issued code.
func (r *OTPRepository) Create(ctx context.Context, otp domain.OTPVerification) error {
	stmt, args, err := r.builder.Insert(tableOTP).
		Columns(otpColumns...).
		Values(
			otp.ID,
			otp.Identifier,
			string(otp.Purpose),
			otp.CodeHash,
			otp.ExpiresAt.UTC(),
			timeArg(otp.UsedAt),
			timeArg(otp.VerifiedAt),
			otp.Attempts,
			otp.MaxAttempts,
			otp.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert otp sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

// GetLatest returns the newest code for identifier and purpose.
func (r *OTPRepository) GetLatest(ctx context.Context, identifier string, purpose domain.OTPPurpose) (*domain.OTPVerification, error) {
	stmt, args, err := r.builder.Select(otpColumns...).
		From(tableOTP).
		Where(squirrel.Eq{"identifier": identifier, "purpose": string(purpose)}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select otp sql: %w", err)
	}

	var (
		otp        domain.OTPVerification
		purposeRaw string
		usedAt     sql.NullTime
		verifiedAt sql.NullTime
	)

	if err := r.db.QueryRow(ctx, stmt, args...).Scan(
		&otp.ID,
		&otp.Identifier,
		&purposeRaw,
		&otp.CodeHash,
		&otp.ExpiresAt,
		&usedAt,
		&verifiedAt,
		&otp.Attempts,
		&otp.MaxAttempts,
		&otp.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan otp: %w", err)
	}

	otp.Purpose = domain.OTPPurpose(purposeRaw)
	otp.UsedAt = nullableTimePtr(usedAt)
	otp.VerifiedAt = nullableTimePtr(verifiedAt)
	return &otp, nil
}

// ReserveAttempt spends one attempt in a single conditional update, so concurrent
// verifications can never exceed max_attempts between them.
func (r *OTPRepository) ReserveAttempt(ctx context.Context, id string, now time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(tableOTP).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Where(squirrel.Eq{"id": id, "used_at": nil, "verified_at": nil}).
		Where("attempts < max_attempts").
		Where(squirrel.Gt{"expires_at": now.UTC()}).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build reserve otp attempt sql: %w", err)
	}

	var attempts int
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reserve otp attempt: %w", err)
	}
	return true, nil
}

// MarkVerified consumes a pending code whose attempt budget was not overrun.
func (r *OTPRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(tableOTP).
		Set("verified_at", at.UTC()).
		Set("used_at", at.UTC()).
		Where(squirrel.Eq{"id": id, "verified_at": nil, "used_at": nil}).
		Where("attempts <= max_attempts").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build verify otp sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("verify otp: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// InvalidatePending marks every unconsumed code for identifier and purpose as used.
func (r *OTPRepository) InvalidatePending(ctx context.Context, identifier string, purpose domain.OTPPurpose, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update(tableOTP).
		Set("used_at", at.UTC()).
		Where(squirrel.Eq{"identifier": identifier, "purpose": string(purpose), "used_at": nil, "verified_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build invalidate otp sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate otp: %w", err)
	}
	return int(res.RowsAffected()), nil
}

// DeleteExpired removes codes that expired before the cutoff.
func (r *OTPRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete(tableOTP).
		Where(squirrel.Lt{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge otp sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge otp: %w", err)
	}
	return int(res.RowsAffected()), nil
}

var _ port.OTPRepository = (*OTPRepository)(nil)
