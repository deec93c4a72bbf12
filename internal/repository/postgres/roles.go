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

var roleColumns = []string{
	"id", "name", "guard", "display_name", "description", "level", "is_active",
	"expires_at", "created_by", "updated_by", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// RoleRepository implements role persistence operations.
type RoleRepository struct {
	db      pgDB
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a PostgreSQL-backed role repository.
func NewRoleRepository(db pgDB) *RoleRepository {
	return &RoleRepository{db: db, builder: newBuilder()}
}

// WithTx returns a repository configured to execute within the provided transaction.
func (r *RoleRepository) WithTx(tx pgx.Tx) *RoleRepository {
	if tx == nil {
		return r
	}
	return &RoleRepository{db: tx, builder: r.builder}
}

// Create inserts the role and attaches the named permissions in one transaction.
func (r *RoleRepository) Create(ctx context.Context, role domain.Role, permissionNames []string) (int, error) {
	stmt, args, err := r.builder.Insert(tableRoles).
		Columns(roleColumns...).
		Values(
			role.ID, role.Name, role.Guard, role.DisplayName, stringArg(role.Description), role.Level, role.IsActive,
			timeArg(role.ExpiresAt), stringArg(role.CreatedBy), stringArg(role.UpdatedBy), role.CreatedAt, role.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert role sql: %w", err)
	}

	attached := 0
	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			if repository.IsUniqueViolation(err) {
				return repository.ErrDuplicate
			}
			return fmt.Errorf("insert role: %w", err)
		}

		n, err := attachPermissionsByName(ctx, tx, r.builder, role.ID, role.Guard, permissionNames)
		if err != nil {
			return err
		}
		attached = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	return attached, nil
}

// Update modifies an existing role.
func (r *RoleRepository) Update(ctx context.Context, role domain.Role) error {
	stmt, args, err := r.builder.Update(tableRoles).
		Set("name", role.Name).
		Set("display_name", role.DisplayName).
		Set("description", stringArg(role.Description)).
		Set("level", role.Level).
		Set("is_active", role.IsActive).
		Set("expires_at", timeArg(role.ExpiresAt)).
		Set("updated_by", stringArg(role.UpdatedBy)).
		Set("updated_at", role.UpdatedAt).
		Where(squirrel.Eq{"id": role.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update role sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("update role: %w", err)
	}

	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Upsert inserts the role or returns the existing row for the same guard and name.
func (r *RoleRepository) Upsert(ctx context.Context, role domain.Role) (*domain.Role, error) {
	stmt, args, err := r.builder.Insert(tableRoles).
		Columns(roleColumns...).
		Values(
			role.ID, role.Name, role.Guard, role.DisplayName, stringArg(role.Description), role.Level, role.IsActive,
			timeArg(role.ExpiresAt), stringArg(role.CreatedBy), stringArg(role.UpdatedBy), role.CreatedAt, role.UpdatedAt,
		).
		Suffix("ON CONFLICT (guard, name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name, guard, display_name, description, level, is_active, expires_at, created_by, updated_by, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build upsert role sql: %w", err)
	}

	stored, err := scanRole(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("upsert role: %w", err)
	}
	return &stored, nil
}

// GetByID retrieves a role by its ID.
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, "id")
}

// GetByName retrieves a role by its unique name within a guard.
func (r *RoleRepository) GetByName(ctx context.Context, guard, name string) (*domain.Role, error) {
	return r.getOne(ctx, squirrel.Eq{"guard": guard, "name": name}, "name")
}

func (r *RoleRepository) getOne(ctx context.Context, where squirrel.Eq, label string) (*domain.Role, error) {
	stmt, args, err := r.builder.Select(roleColumns...).
		From(tableRoles).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role by %s sql: %w", label, err)
	}

	role, err := scanRole(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan role by %s: %w", label, err)
	}

	return &role, nil
}

// List retrieves all roles ordered by level, most privileged first.
func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	stmt, args, err := r.builder.Select(roleColumns...).
		From(tableRoles).
		OrderBy("level DESC", "name ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list roles sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := make([]domain.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	return roles, nil
}

// DeleteIfUnused removes the role when no unexpired assignment references it.
// Role-permission and expired user-role edges cascade through foreign keys.
func (r *RoleRepository) DeleteIfUnused(ctx context.Context, id string, now time.Time) (bool, error) {
	stmt, args, err := r.builder.Delete(tableRoles).
		Where(squirrel.Eq{"id": id}).
		Where("NOT EXISTS (SELECT 1 FROM "+tableUserRoles+" ur WHERE ur.role_id = "+tableRoles+".id AND (ur.expires_at IS NULL OR ur.expires_at > ?))", now.UTC()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete role sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete role: %w", err)
	}

	return res.RowsAffected() > 0, nil
}

// CountActiveAssignments counts unexpired user edges for the role.
func (r *RoleRepository) CountActiveAssignments(ctx context.Context, roleID string, now time.Time) (int, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").
		From(tableUserRoles).
		Where(squirrel.Eq{"role_id": roleID}).
		Where(squirrel.Or{squirrel.Eq{"expires_at": nil}, squirrel.Gt{"expires_at": now.UTC()}}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count role users sql: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count role users: %w", err)
	}
	return count, nil
}

func scanRole(row rowScanner) (domain.Role, error) {
	var (
		role        domain.Role
		description sql.NullString
		expiresAt   sql.NullTime
		createdBy   sql.NullString
		updatedBy   sql.NullString
	)

	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Guard,
		&role.DisplayName,
		&description,
		&role.Level,
		&role.IsActive,
		&expiresAt,
		&createdBy,
		&updatedBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		return domain.Role{}, err
	}

	role.Description = nullableStringPtr(description)
	role.ExpiresAt = nullableTimePtr(expiresAt)
	role.CreatedBy = nullableStringPtr(createdBy)
	role.UpdatedBy = nullableStringPtr(updatedBy)

	return role, nil
}

var _ port.RoleRepository = (*RoleRepository)(nil)
