package port

import (
	"context"

	"github.com/arklim/superauth/internal/core/domain"
)

// AuthorizationEngine answers authorization questions. Implementations never
// return errors: any failure resolves to a deny.
type AuthorizationEngine interface {
	HasRole(ctx context.Context, userID, roleName string) bool
	HasAnyRole(ctx context.Context, userID string, roleNames ...string) bool
	HasPermission(ctx context.Context, userID, permission string) bool
	HasAllPermissions(ctx context.Context, userID string, permissions ...string) bool
	HighestActiveRole(ctx context.Context, userID string) (domain.Role, bool)
	CanAccessRole(ctx context.Context, actorID string, target domain.Role) bool
	CanManageRole(ctx context.Context, actorID string, target domain.Role) bool
	Authorize(ctx context.Context, userID, permissionOrRole string) bool
}

// BreachChecker looks passwords up against the breach corpus.
type BreachChecker interface {
	Check(ctx context.Context, password string) (domain.BreachCheckResult, error)
}

// PasswordAnalyzer scores password strength.
type PasswordAnalyzer interface {
	Analyze(password string) domain.PasswordAnalysis
}

// SecretHasher hashes short secrets such as OTP codes.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

// Fingerprinter derives a keyed, non-reversible fingerprint of a secret.
type Fingerprinter interface {
	Fingerprint(secret string) string
}
