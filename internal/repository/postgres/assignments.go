package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

// refreshExpiredEdge lets a new assignment take over an expired edge while leaving
// a live edge untouched, so concurrent assigners cannot create duplicates.
const refreshExpiredEdge = "ON CONFLICT (user_id, role_id, guard) DO UPDATE SET " +
	"expires_at = EXCLUDED.expires_at, assigned_by = EXCLUDED.assigned_by, " +
	"notes = EXCLUDED.notes, assigned_at = EXCLUDED.assigned_at " +
	"WHERE " + tableUserRoles + ".expires_at IS NOT NULL AND " + tableUserRoles + ".expires_at <= ?"

// AssignmentRepository persists user-role edges.
type AssignmentRepository struct {
	db      pgDB
	builder squirrel.StatementBuilderType
}

// NewAssignmentRepository constructs a PostgreSQL-backed assignment repository.
func NewAssignmentRepository(db pgDB) *AssignmentRepository {
	return &AssignmentRepository{db: db, builder: newBuilder()}
}

// WithTx returns a repository configured to execute within the provided transaction.
func (r *AssignmentRepository) WithTx(tx pgx.Tx) *AssignmentRepository {
	if tx == nil {
		return r
	}
	return &AssignmentRepository{db: tx, builder: r.builder}
}

// Assign inserts the edge or refreshes an expired one.
func (r *AssignmentRepository) Assign(ctx context.Context, assignment domain.UserRole, now time.Time) (bool, error) {
	stmt, args, err := r.builder.Insert(tableUserRoles).
		Columns("user_id", "role_id", "guard", "expires_at", "assigned_by", "notes", "assigned_at").
		Values(
			assignment.UserID,
			assignment.RoleID,
			assignment.Guard,
			timeArg(assignment.ExpiresAt),
			stringArg(assignment.AssignedBy),
			stringArg(assignment.Notes),
			assignment.AssignedAt,
		).
		Suffix(refreshExpiredEdge, now.UTC()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build assign role sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("assign role: %w", err)
	}

	return res.RowsAffected() > 0, nil
}

// Remove deletes the edge regardless of expiry.
func (r *AssignmentRepository) Remove(ctx context.Context, userID, roleID, guard string) (bool, error) {
	stmt, args, err := r.builder.Delete(tableUserRoles).
		Where(squirrel.Eq{"user_id": userID, "role_id": roleID, "guard": guard}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build remove role sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("remove role: %w", err)
	}

	return res.RowsAffected() > 0, nil
}

// ListByUser returns every edge of the user, expired ones included.
func (r *AssignmentRepository) ListByUser(ctx context.Context, userID string) ([]domain.UserRole, error) {
	stmt, args, err := r.builder.Select("user_id", "role_id", "guard", "expires_at", "assigned_by", "notes", "assigned_at").
		From(tableUserRoles).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("assigned_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list user roles sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	assignments := make([]domain.UserRole, 0)
	for rows.Next() {
		var (
			assignment domain.UserRole
			expiresAt  sql.NullTime
			assignedBy sql.NullString
			notes      sql.NullString
		)
		if err := rows.Scan(
			&assignment.UserID,
			&assignment.RoleID,
			&assignment.Guard,
			&expiresAt,
			&assignedBy,
			&notes,
			&assignment.AssignedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		assignment.ExpiresAt = nullableTimePtr(expiresAt)
		assignment.AssignedBy = nullableStringPtr(assignedBy)
		assignment.Notes = nullableStringPtr(notes)
		assignments = append(assignments, assignment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}

	return assignments, nil
}

var _ port.RoleAssignmentRepository = (*AssignmentRepository)(nil)
