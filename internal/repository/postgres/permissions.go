package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

var permissionColumns = []string{
	"id", "name", "guard", "display_name", "description", "category", "is_system", "created_at", "updated_at",
}

// PermissionRepository implements port.PermissionRepository over PostgreSQL.
type PermissionRepository struct {
	db      pgDB
	builder squirrel.StatementBuilderType
}

// NewPermissionRepository constructs a permission repository instance.
func NewPermissionRepository(db pgDB) *PermissionRepository {
	return &PermissionRepository{db: db, builder: newBuilder()}
}

// Create inserts a new permission row.
func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	stmt, args, err := r.insert(permission).ToSql()
	if err != nil {
		return fmt.Errorf("build insert permission sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		if repository.IsUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert permission: %w", err)
	}

	return nil
}

// Upsert inserts the permission or returns the existing row for the same guard and name.
func (r *PermissionRepository) Upsert(ctx context.Context, permission domain.Permission) (*domain.Permission, error) {
	stmt, args, err := r.insert(permission).
		Suffix("ON CONFLICT (guard, name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name, guard, display_name, description, category, is_system, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build upsert permission sql: %w", err)
	}

	stored, err := scanPermission(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("upsert permission: %w", err)
	}
	return &stored, nil
}

func (r *PermissionRepository) insert(permission domain.Permission) squirrel.InsertBuilder {
	return r.builder.Insert(tablePermissions).
		Columns(permissionColumns...).
		Values(
			permission.ID,
			permission.Name,
			permission.Guard,
			permission.DisplayName,
			stringArg(permission.Description),
			permission.Category,
			permission.IsSystem,
			permission.CreatedAt,
			permission.UpdatedAt,
		)
}

// Update modifies display metadata of a permission.
func (r *PermissionRepository) Update(ctx context.Context, permission domain.Permission) error {
	stmt, args, err := r.builder.Update(tablePermissions).
		Set("display_name", permission.DisplayName).
		Set("description", stringArg(permission.Description)).
		Set("category", permission.Category).
		Set("updated_at", permission.UpdatedAt).
		Where(squirrel.Eq{"id": permission.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update permission sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a permission. Role and user edges cascade; the users that held a
// direct grant are returned so their cached authorization can be dropped.
func (r *PermissionRepository) Delete(ctx context.Context, id string) ([]string, error) {
	selectStmt, selectArgs, err := r.builder.Select("DISTINCT user_id").
		From(tableUserPermissions).
		Where(squirrel.Eq{"permission_id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission grantees sql: %w", err)
	}
	deleteStmt, deleteArgs, err := r.builder.Delete(tablePermissions).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete permission sql: %w", err)
	}

	grantees := make([]string, 0)
	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectStmt, selectArgs...)
		if err != nil {
			return fmt.Errorf("query permission grantees: %w", err)
		}
		for rows.Next() {
			var userID string
			if err := rows.Scan(&userID); err != nil {
				rows.Close()
				return fmt.Errorf("scan permission grantee: %w", err)
			}
			grantees = append(grantees, userID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate permission grantees: %w", err)
		}

		res, err := tx.Exec(ctx, deleteStmt, deleteArgs...)
		if err != nil {
			return fmt.Errorf("delete permission: %w", err)
		}
		if res.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grantees, nil
}

// GetByID retrieves a permission by ID.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*domain.Permission, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, "id")
}

// GetByName retrieves a permission by its unique name within a guard.
func (r *PermissionRepository) GetByName(ctx context.Context, guard, name string) (*domain.Permission, error) {
	return r.getOne(ctx, squirrel.Eq{"guard": guard, "name": name}, "name")
}

func (r *PermissionRepository) getOne(ctx context.Context, where squirrel.Eq, label string) (*domain.Permission, error) {
	stmt, args, err := r.builder.Select(permissionColumns...).
		From(tablePermissions).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission by %s sql: %w", label, err)
	}

	permission, err := scanPermission(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan permission by %s: %w", label, err)
	}
	return &permission, nil
}

// List returns permissions ordered by category and name.
func (r *PermissionRepository) List(ctx context.Context, filter port.PermissionFilter) ([]domain.Permission, error) {
	query := r.builder.Select(permissionColumns...).
		From(tablePermissions).
		OrderBy("category ASC", "name ASC")
	if filter.Guard != "" {
		query = query.Where(squirrel.Eq{"guard": filter.Guard})
	}
	if filter.Category != "" {
		query = query.Where(squirrel.Eq{"category": filter.Category})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}

	return r.queryPermissions(ctx, stmt, args, "permissions")
}

// ListByRole returns permissions attached to a role.
func (r *PermissionRepository) ListByRole(ctx context.Context, roleID string) ([]domain.Permission, error) {
	columns := make([]string, len(permissionColumns))
	for i, column := range permissionColumns {
		columns[i] = "p." + column
	}

	stmt, args, err := r.builder.Select(columns...).
		From(tablePermissions + " p").
		Join(tableRolePermissions + " rp ON rp.permission_id = p.id").
		Where(squirrel.Eq{"rp.role_id": roleID}).
		OrderBy("p.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build role permissions sql: %w", err)
	}

	return r.queryPermissions(ctx, stmt, args, "role permissions")
}

func (r *PermissionRepository) queryPermissions(ctx context.Context, stmt string, args []any, label string) ([]domain.Permission, error) {
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", label, err)
	}
	defer rows.Close()

	permissions := make([]domain.Permission, 0)
	for rows.Next() {
		permission, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", label, err)
		}
		permissions = append(permissions, permission)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", label, err)
	}
	return permissions, nil
}

// Count returns the number of permissions.
func (r *PermissionRepository) Count(ctx context.Context) (int, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").From(tablePermissions).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count permissions sql: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count permissions: %w", err)
	}
	return count, nil
}

// ListRoleGrants returns role ID -> permission names for every role.
func (r *PermissionRepository) ListRoleGrants(ctx context.Context) (map[string][]string, error) {
	stmt, args, err := r.builder.Select("rp.role_id", "p.name").
		From(tableRolePermissions + " rp").
		Join(tablePermissions + " p ON p.id = rp.permission_id").
		OrderBy("rp.role_id ASC", "p.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build role grants sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role grants: %w", err)
	}
	defer rows.Close()

	grants := make(map[string][]string)
	for rows.Next() {
		var roleID, name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return nil, fmt.Errorf("scan role grant: %w", err)
		}
		grants[roleID] = append(grants[roleID], name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role grants: %w", err)
	}
	return grants, nil
}

// AttachToRole links existing permissions with the given names to the role.
func (r *PermissionRepository) AttachToRole(ctx context.Context, roleID, guard string, names []string) (int, error) {
	return attachPermissionsByName(ctx, r.db, r.builder, roleID, guard, names)
}

// DetachFromRole unlinks the named permissions from the role.
func (r *PermissionRepository) DetachFromRole(ctx context.Context, roleID, guard string, names []string) (int, error) {
	names = normalizeNames(names)
	if len(names) == 0 {
		return 0, nil
	}

	stmt, args, err := r.builder.Delete(tableRolePermissions).
		Where(squirrel.Eq{"role_id": roleID}).
		Where("permission_id IN (SELECT id FROM "+tablePermissions+" WHERE guard = ? AND name = ANY(?))", guard, names).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build detach role permissions sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("detach role permissions: %w", err)
	}
	return int(res.RowsAffected()), nil
}

// SyncRole replaces the role's permission set in one transaction.
func (r *PermissionRepository) SyncRole(ctx context.Context, roleID, guard string, names []string) (int, int, error) {
	names = normalizeNames(names)

	query := r.builder.Delete(tableRolePermissions).Where(squirrel.Eq{"role_id": roleID})
	if len(names) > 0 {
		query = query.Where("permission_id NOT IN (SELECT id FROM "+tablePermissions+" WHERE guard = ? AND name = ANY(?))", guard, names)
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("build sync role permissions sql: %w", err)
	}

	var attached, detached int
	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		res, err := tx.Exec(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("prune role permissions: %w", err)
		}
		detached = int(res.RowsAffected())

		attached, err = attachPermissionsByName(ctx, tx, r.builder, roleID, guard, names)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return attached, detached, nil
}

// GrantToUser links a permission directly to a user.
func (r *PermissionRepository) GrantToUser(ctx context.Context, grant domain.UserPermission) (bool, error) {
	stmt, args, err := r.builder.Insert(tableUserPermissions).
		Columns("user_id", "permission_id", "guard", "granted_by", "granted_at").
		Values(grant.UserID, grant.PermissionID, grant.Guard, stringArg(grant.GrantedBy), grant.GrantedAt).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build grant user permission sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("grant user permission: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// RevokeFromUser removes a direct grant.
func (r *PermissionRepository) RevokeFromUser(ctx context.Context, userID, permissionID, guard string) (bool, error) {
	stmt, args, err := r.builder.Delete(tableUserPermissions).
		Where(squirrel.Eq{"user_id": userID, "permission_id": permissionID, "guard": guard}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke user permission sql: %w", err)
	}

	res, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke user permission: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// ListDirectNamesByUser returns the names of permissions granted directly to the user within guard.
func (r *PermissionRepository) ListDirectNamesByUser(ctx context.Context, userID, guard string) ([]string, error) {
	stmt, args, err := r.builder.Select("p.name").
		From(tableUserPermissions + " up").
		Join(tablePermissions + " p ON p.id = up.permission_id").
		Where(squirrel.Eq{"up.user_id": userID, "up.guard": guard}).
		OrderBy("p.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user permissions sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan user permission: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user permissions: %w", err)
	}
	return names, nil
}

// attachPermissionsByName resolves names inside guard and links them to the role.
// Unknown names are skipped.
func attachPermissionsByName(ctx context.Context, exec pgExecutor, builder squirrel.StatementBuilderType, roleID, guard string, names []string) (int, error) {
	names = normalizeNames(names)
	if len(names) == 0 {
		return 0, nil
	}

	stmt, args, err := builder.Select("id").
		From(tablePermissions).
		Where(squirrel.Eq{"guard": guard, "name": names}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build resolve permissions sql: %w", err)
	}

	rows, err := exec.Query(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("resolve permissions: %w", err)
	}

	ids := make([]string, 0, len(names))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan permission id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate permission ids: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	insert := builder.Insert(tableRolePermissions).Columns("role_id", "permission_id")
	for _, id := range ids {
		insert = insert.Values(roleID, id)
	}

	stmt, args, err = insert.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build attach role permissions sql: %w", err)
	}

	res, err := exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("attach role permissions: %w", err)
	}
	return int(res.RowsAffected()), nil
}

func scanPermission(row rowScanner) (domain.Permission, error) {
	var (
		permission  domain.Permission
		description sql.NullString
	)

	if err := row.Scan(
		&permission.ID,
		&permission.Name,
		&permission.Guard,
		&permission.DisplayName,
		&description,
		&permission.Category,
		&permission.IsSystem,
		&permission.CreatedAt,
		&permission.UpdatedAt,
	); err != nil {
		return domain.Permission{}, err
	}

	permission.Description = nullableStringPtr(description)
	return permission, nil
}

var _ port.PermissionRepository = (*PermissionRepository)(nil)
