package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/transport/http/middleware"
	"github.com/arklim/superauth/internal/usecase"
)

// RoleManager is the role surface used by the HTTP layer.
type RoleManager interface {
	ListRoles(ctx context.Context) ([]domain.Role, error)
	GetRole(ctx context.Context, roleID string) (domain.Role, error)
	CreateRole(ctx context.Context, actorID string, input usecase.CreateRoleInput) (usecase.CreateRoleResult, error)
	UpdateRole(ctx context.Context, actorID, roleID string, input usecase.UpdateRoleInput) (domain.Role, error)
	DeleteRole(ctx context.Context, actorID, roleID string) error
	AttachPermissions(ctx context.Context, actorID, roleID string, names []string) (int, error)
	DetachPermissions(ctx context.Context, actorID, roleID string, names []string) (int, error)
	SyncPermissions(ctx context.Context, actorID, roleID string, names []string) (int, int, error)
}

// RoleCatalog answers read-only hierarchy queries.
type RoleCatalog interface {
	Stats(ctx context.Context) (domain.RoleStats, error)
	ExpiringWithin(ctx context.Context, days int) ([]domain.Role, error)
}

const defaultExpiringDays = 7

// RoleHandler serves /roles.
type RoleHandler struct {
	roles        RoleManager
	catalog      RoleCatalog
	expiringDays int
}

// NewRoleHandler constructs a RoleHandler.
func NewRoleHandler(roles RoleManager, catalog RoleCatalog) *RoleHandler {
	return &RoleHandler{roles: roles, catalog: catalog, expiringDays: defaultExpiringDays}
}

// WithExpiringWindow sets the default lookahead of /roles/expiring, rounded down to whole days.
func (h *RoleHandler) WithExpiringWindow(window time.Duration) *RoleHandler {
	if days := int(window / (24 * time.Hour)); days > 0 {
		h.expiringDays = days
	}
	return h
}

// ListRoles returns the hierarchy ordered by level.
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		RespondWithDomainError(c, err, "failed to list roles")
		return
	}
	c.JSON(http.StatusOK, newRolePayloads(roles))
}

// GetRole returns one role.
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roles.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithDomainError(c, err, "failed to load role")
		return
	}
	c.JSON(http.StatusOK, newRolePayload(role))
}

// Stats returns hierarchy counters.
func (h *RoleHandler) Stats(c *gin.Context) {
	stats, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		RespondWithDomainError(c, err, "failed to compute role stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Expiring lists active roles that expire within ?days=N.
func (h *RoleHandler) Expiring(c *gin.Context) {
	days := h.expiringDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "days must be a non-negative integer"))
			return
		}
		days = parsed
	}

	roles, err := h.catalog.ExpiringWithin(c.Request.Context(), days)
	if err != nil {
		RespondWithDomainError(c, err, "failed to list expiring roles")
		return
	}
	c.JSON(http.StatusOK, newRolePayloads(roles))
}

// CreateRole creates a role with optional initial permissions.
func (h *RoleHandler) CreateRole(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	var req RoleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid role payload"))
		return
	}

	result, err := h.roles.CreateRole(c.Request.Context(), actorID, usecase.CreateRoleInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
		IsActive:    req.IsActive,
		ExpiresAt:   req.ExpiresAt,
		Permissions: req.Permissions,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to create role")
		return
	}

	c.JSON(http.StatusCreated, RoleCreateResponse{
		Role:                newRolePayload(result.Role),
		AttachedPermissions: result.AttachedPermissions,
	})
}

// UpdateRole applies a partial update.
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	var req RoleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid role payload"))
		return
	}

	role, err := h.roles.UpdateRole(c.Request.Context(), actorID, c.Param("id"), usecase.UpdateRoleInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
		IsActive:    req.IsActive,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to update role")
		return
	}
	c.JSON(http.StatusOK, newRolePayload(role))
}

// DeleteRole removes an unused, non-system role.
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	if err := h.roles.DeleteRole(c.Request.Context(), actorID, c.Param("id")); err != nil {
		RespondWithDomainError(c, err, "failed to delete role")
		return
	}
	c.Status(http.StatusNoContent)
}

// SetPermissions syncs, attaches or detaches permission names. Mode defaults to sync.
func (h *RoleHandler) SetPermissions(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	var req RolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permissions payload"))
		return
	}

	ctx := c.Request.Context()
	roleID := c.Param("id")
	var (
		resp RolePermissionsResponse
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", "sync":
		resp.Attached, resp.Detached, err = h.roles.SyncPermissions(ctx, actorID, roleID, req.Permissions)
	case "attach":
		resp.Attached, err = h.roles.AttachPermissions(ctx, actorID, roleID, req.Permissions)
	case "detach":
		resp.Detached, err = h.roles.DetachPermissions(ctx, actorID, roleID, req.Permissions)
	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "mode must be sync, attach or detach"))
		return
	}
	if err != nil {
		RespondWithDomainError(c, err, "failed to update role permissions")
		return
	}
	c.JSON(http.StatusOK, resp)
}
