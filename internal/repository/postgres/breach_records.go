package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
)

// BreachRecordRepository persists password breach check outcomes.
type BreachRecordRepository struct {
	db      pgDB
	builder squirrel.StatementBuilderType
}

// NewBreachRecordRepository constructs a PostgreSQL-backed breach record repository.
func NewBreachRecordRepository(db pgDB) *BreachRecordRepository {
	return &BreachRecordRepository{db: db, builder: newBuilder()}
}

// Create stores a breach check outcome.
func (r *BreachRecordRepository) Create(ctx context.Context, record domain.PasswordBreachRecord) error {
	stmt, args, err := r.builder.Insert(tableBreachRecords).
		Columns("id", "user_id", "password_hash", "breach_count", "risk_level", "status", "api_response_time_ms", "checked_at").
		Values(
			record.ID,
			stringArg(record.UserID),
			record.PasswordHash,
			record.BreachCount,
			string(record.RiskLevel),
			string(record.Status),
			record.APIResponseTimeMs,
			record.CheckedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert breach record sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert breach record: %w", err)
	}
	return nil
}

// DeleteCheckedBefore purges records older than the cutoff.
func (r *BreachRecordRepository) DeleteCheckedBefore(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete(tableBreachRecords).
		Where(squirrel.Lt{"checked_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge breach records sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge breach records: %w", err)
	}
	return int(res.RowsAffected()), nil
}

var _ port.BreachRecordRepository = (*BreachRecordRepository)(nil)
