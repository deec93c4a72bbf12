package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/repository"
)

func TestPermissionRepository_ListRoleGrants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	rows := pgxmock.NewRows([]string{"role_id", "name"}).
		AddRow("r-1", "users.create").
		AddRow("r-1", "users.view").
		AddRow("r-2", "dashboard.view")

	mock.ExpectQuery(`SELECT rp\.role_id, p\.name FROM superauth\.role_permissions rp JOIN superauth\.permissions p`).
		WillReturnRows(rows)

	grants, err := repo.ListRoleGrants(context.Background())
	if err != nil {
		t.Fatalf("ListRoleGrants returned error: %v", err)
	}
	if len(grants["r-1"]) != 2 || len(grants["r-2"]) != 1 {
		t.Fatalf("unexpected grants: %+v", grants)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_SyncRolePrunesAndAttaches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM superauth\.role_permissions WHERE role_id = \$1 AND permission_id NOT IN`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectQuery(`SELECT id FROM superauth\.permissions`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-1"))
	mock.ExpectExec(`INSERT INTO superauth\.role_permissions .* ON CONFLICT DO NOTHING`).
		WithArgs("r-1", "p-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	attached, detached, err := repo.SyncRole(context.Background(), "r-1", "web", []string{"users.view"})
	if err != nil {
		t.Fatalf("SyncRole returned error: %v", err)
	}
	if attached != 1 || detached != 2 {
		t.Fatalf("expected 1 attached / 2 detached, got %d / %d", attached, detached)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_DetachWithoutNamesIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	n, err := repo.DetachFromRole(context.Background(), "r-1", "web", []string{"", "  "})
	if err != nil {
		t.Fatalf("DetachFromRole returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_DeleteReturnsDirectGrantees(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT DISTINCT user_id FROM superauth\.user_permissions WHERE permission_id = \$1 FOR UPDATE`).
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u-1").AddRow("u-2"))
	mock.ExpectExec(`DELETE FROM superauth\.permissions WHERE id = \$1`).
		WithArgs("p-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	grantees, err := repo.Delete(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(grantees) != 2 || grantees[0] != "u-1" || grantees[1] != "u-2" {
		t.Fatalf("unexpected grantees: %v", grantees)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_DeleteMissingRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT DISTINCT user_id FROM superauth\.user_permissions`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))
	mock.ExpectExec(`DELETE FROM superauth\.permissions WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	if _, err := repo.Delete(context.Background(), "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_ListDirectNamesByUserFiltersGuard(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	mock.ExpectQuery(`SELECT p\.name FROM superauth\.user_permissions up JOIN superauth\.permissions p ON p\.id = up\.permission_id WHERE up\.guard = \$1 AND up\.user_id = \$2`).
		WithArgs("api", "u-1").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("reports.export"))

	names, err := repo.ListDirectNamesByUser(context.Background(), "u-1", "api")
	if err != nil {
		t.Fatalf("ListDirectNamesByUser returned error: %v", err)
	}
	if len(names) != 1 || names[0] != "reports.export" {
		t.Fatalf("unexpected names: %v", names)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_GrantToUserMapsMissingPermissionToNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	mock.ExpectExec(`INSERT INTO superauth\.user_permissions`).
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})

	grant := domain.UserPermission{UserID: "u-1", PermissionID: "p-gone", Guard: "web", GrantedAt: time.Now()}
	if _, err := repo.GrantToUser(context.Background(), grant); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
