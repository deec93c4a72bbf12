package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Roles         *RoleRepository
	Assignments   *AssignmentRepository
	Permissions   *PermissionRepository
	LoginHistory  *LoginHistoryRepository
	BreachRecords *BreachRecordRepository
	OTP           *OTPRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Roles:         NewRoleRepository(pool),
		Assignments:   NewAssignmentRepository(pool),
		Permissions:   NewPermissionRepository(pool),
		LoginHistory:  NewLoginHistoryRepository(pool),
		BreachRecords: NewBreachRecordRepository(pool),
		OTP:           NewOTPRepository(pool),
	}
}
