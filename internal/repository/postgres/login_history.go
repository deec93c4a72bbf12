package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
)

var loginHistoryColumns = []string{
	"id", "user_id", "ip_address", "user_agent", "device", "browser", "os", "country", "city",
	"success", "failure_reason", "risk_score", "anomaly_score", "confidence_score",
	"is_unusual", "is_high_risk_ip", "anomalies", "attempted_at",
}

// LoginHistoryRepository persists scored login attempts.
type LoginHistoryRepository struct {
	db      pgDB
	builder squirrel.StatementBuilderType
}

// NewLoginHistoryRepository constructs a PostgreSQL-backed login history repository.
func NewLoginHistoryRepository(db pgDB) *LoginHistoryRepository {
	return &LoginHistoryRepository{db: db, builder: newBuilder()}
}

// Create stores a login attempt with its assessment.
func (r *LoginHistoryRepository) Create(ctx context.Context, entry domain.LoginHistory) error {
	anomalies, err := marshalAnomalies(entry.Anomalies)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert(tableLoginHistories).
		Columns(loginHistoryColumns...).
		Values(
			entry.ID,
			entry.UserID,
			entry.IPAddress,
			entry.UserAgent,
			entry.Device,
			entry.Browser,
			entry.OS,
			entry.Country,
			entry.City,
			entry.Success,
			stringArg(entry.FailureReason),
			entry.RiskScore,
			entry.AnomalyScore,
			entry.ConfidenceScore,
			entry.IsUnusual,
			entry.IsHighRiskIP,
			anomalies,
			entry.AttemptedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert login history sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert login history: %w", err)
	}
	return nil
}

// ListByUserSince returns the user's attempts at or after since, oldest first.
func (r *LoginHistoryRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]domain.LoginHistory, error) {
	stmt, args, err := r.builder.Select(loginHistoryColumns...).
		From(tableLoginHistories).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.GtOrEq{"attempted_at": since.UTC()}).
		OrderBy("attempted_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list login history sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query login history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LoginHistory, 0)
	for rows.Next() {
		var (
			entry         domain.LoginHistory
			failureReason sql.NullString
			anomalies     []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.Device,
			&entry.Browser,
			&entry.OS,
			&entry.Country,
			&entry.City,
			&entry.Success,
			&failureReason,
			&entry.RiskScore,
			&entry.AnomalyScore,
			&entry.ConfidenceScore,
			&entry.IsUnusual,
			&entry.IsHighRiskIP,
			&anomalies,
			&entry.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("scan login history: %w", err)
		}
		entry.FailureReason = nullableStringPtr(failureReason)
		if len(anomalies) > 0 {
			if err := json.Unmarshal(anomalies, &entry.Anomalies); err != nil {
				return nil, fmt.Errorf("decode login anomalies: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate login history: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan purges attempts recorded before the cutoff.
func (r *LoginHistoryRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete(tableLoginHistories).
		Where(squirrel.Lt{"attempted_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge login history sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge login history: %w", err)
	}
	return int(res.RowsAffected()), nil
}

func marshalAnomalies(anomalies []domain.Anomaly) ([]byte, error) {
	if len(anomalies) == 0 {
		return []byte("[]"), nil
	}
	payload, err := json.Marshal(anomalies)
	if err != nil {
		return nil, fmt.Errorf("encode login anomalies: %w", err)
	}
	return payload, nil
}

var _ port.LoginHistoryRepository = (*LoginHistoryRepository)(nil)
