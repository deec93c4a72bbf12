package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/transport/http/middleware"
	"github.com/arklim/superauth/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse describes liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RolePayload is the API view of a role.
type RolePayload struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Guard       string     `json:"guard"`
	DisplayName string     `json:"display_name"`
	Description *string    `json:"description,omitempty"`
	Level       int        `json:"level"`
	IsActive    bool       `json:"is_active"`
	IsSystem    bool       `json:"is_system"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newRolePayload(role domain.Role) RolePayload {
	return RolePayload{
		ID:          role.ID,
		Name:        role.Name,
		Guard:       role.Guard,
		DisplayName: role.DisplayName,
		Description: role.Description,
		Level:       role.Level,
		IsActive:    role.IsActive,
		IsSystem:    role.IsSystem(),
		ExpiresAt:   role.ExpiresAt,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func newRolePayloads(roles []domain.Role) []RolePayload {
	out := make([]RolePayload, 0, len(roles))
	for _, role := range roles {
		out = append(out, newRolePayload(role))
	}
	return out
}

// RoleCreateRequest defines the payload for creating a role.
type RoleCreateRequest struct {
	Name        string     `json:"name" binding:"required"`
	DisplayName string     `json:"display_name"`
	Description *string    `json:"description"`
	Level       int        `json:"level"`
	IsActive    *bool      `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Permissions []string   `json:"permissions"`
}

// RoleCreateResponse returns the new role and the number of permissions attached.
type RoleCreateResponse struct {
	Role                RolePayload `json:"role"`
	AttachedPermissions int         `json:"attached_permissions"`
}

// RoleUpdateRequest is a partial update.
type RoleUpdateRequest struct {
	Name        *string    `json:"name"`
	DisplayName *string    `json:"display_name"`
	Description *string    `json:"description"`
	Level       *int       `json:"level"`
	IsActive    *bool      `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
}

// RolePermissionsRequest replaces, adds or removes permission names on a role.
type RolePermissionsRequest struct {
	Mode        string   `json:"mode"`
	Permissions []string `json:"permissions"`
}

// RolePermissionsResponse reports how many grants changed.
type RolePermissionsResponse struct {
	Attached int `json:"attached"`
	Detached int `json:"detached"`
}

// PermissionPayload is the API view of a permission.
type PermissionPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Guard       string    `json:"guard"`
	DisplayName string    `json:"display_name"`
	Description *string   `json:"description,omitempty"`
	Category    string    `json:"category"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newPermissionPayload(p domain.Permission) PermissionPayload {
	return PermissionPayload{
		ID:          p.ID,
		Name:        p.Name,
		Guard:       p.Guard,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Category:    p.Category,
		IsSystem:    p.IsSystem,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// PermissionCreateRequest defines the payload for creating a permission.
type PermissionCreateRequest struct {
	Name        string  `json:"name" binding:"required"`
	DisplayName string  `json:"display_name"`
	Description *string `json:"description"`
	Category    string  `json:"category"`
}

// PermissionUpdateRequest is a partial update. Names are immutable.
type PermissionUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

// AssignRoleRequest assigns a role to a user.
type AssignRoleRequest struct {
	RoleID    string     `json:"role_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	Notes     *string    `json:"notes"`
}

// GrantPermissionRequest grants a permission directly to a user.
type GrantPermissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

// ChangedResponse reports whether a mutation changed state.
type ChangedResponse struct {
	Changed bool `json:"changed"`
}

// AssignedRolePayload is a role held by a user.
type AssignedRolePayload struct {
	Role       RolePayload `json:"role"`
	AssignedAt time.Time   `json:"assigned_at"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Notes      *string     `json:"notes,omitempty"`
}

// UserAuthorizationResponse describes a user's effective roles and permissions.
type UserAuthorizationResponse struct {
	UserID      string                `json:"user_id"`
	Roles       []AssignedRolePayload `json:"roles"`
	Permissions []string              `json:"permissions"`
	HighestRole *RolePayload          `json:"highest_role,omitempty"`
}

func newUserAuthorizationResponse(auth usecase.UserAuthorization) UserAuthorizationResponse {
	resp := UserAuthorizationResponse{
		UserID:      auth.UserID,
		Roles:       make([]AssignedRolePayload, 0, len(auth.Roles)),
		Permissions: auth.Permissions,
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	for _, ra := range auth.Roles {
		resp.Roles = append(resp.Roles, AssignedRolePayload{
			Role:       newRolePayload(ra.Role),
			AssignedAt: ra.Assignment.AssignedAt,
			ExpiresAt:  ra.Assignment.ExpiresAt,
			Notes:      ra.Assignment.Notes,
		})
	}
	if auth.HighestRole != nil {
		highest := newRolePayload(*auth.HighestRole)
		resp.HighestRole = &highest
	}
	return resp
}

// AuthorizeRequest asks whether a user holds a permission or role.
type AuthorizeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Check  string `json:"check" binding:"required"`
}

// AuthorizeResponse carries the decision.
type AuthorizeResponse struct {
	UserID  string `json:"user_id"`
	Check   string `json:"check"`
	Allowed bool   `json:"allowed"`
}

// PasswordRequest carries a candidate password.
type PasswordRequest struct {
	Password string  `json:"password" binding:"required"`
	UserID   *string `json:"user_id"`
}

// LoginScoreRequest describes a login attempt to score.
type LoginScoreRequest struct {
	UserID        string     `json:"user_id" binding:"required"`
	IPAddress     string     `json:"ip_address"`
	UserAgent     string     `json:"user_agent"`
	Device        string     `json:"device"`
	Browser       string     `json:"browser"`
	OS            string     `json:"os"`
	Country       string     `json:"country"`
	City          string     `json:"city"`
	Success       bool       `json:"success"`
	FailureReason string     `json:"failure_reason"`
	AttemptedAt   *time.Time `json:"attempted_at"`
}

// OTPGenerateRequest issues a code.
type OTPGenerateRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Purpose    string `json:"purpose" binding:"required"`
	Recipient  string `json:"recipient"`
}

// OTPGenerateResponse acknowledges issuance. Code is only set in development.
type OTPGenerateResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

// OTPVerifyRequest submits a code.
type OTPVerifyRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Purpose    string `json:"purpose" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// OTPVerifyResponse confirms a successful verification.
type OTPVerifyResponse struct {
	Verified bool `json:"verified"`
}
