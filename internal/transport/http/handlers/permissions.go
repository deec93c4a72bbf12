package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/usecase"
)

// PermissionManager is the permission catalogue surface used by the HTTP layer.
type PermissionManager interface {
	ListPermissions(ctx context.Context, category string) ([]domain.Permission, error)
	GetPermission(ctx context.Context, permissionID string) (domain.Permission, error)
	CreatePermission(ctx context.Context, input usecase.CreatePermissionInput) (domain.Permission, error)
	UpdatePermission(ctx context.Context, permissionID string, input usecase.UpdatePermissionInput) (domain.Permission, error)
	DeletePermission(ctx context.Context, permissionID string) error
}

// PermissionHandler serves /permissions.
type PermissionHandler struct {
	permissions PermissionManager
}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler(permissions PermissionManager) *PermissionHandler {
	return &PermissionHandler{permissions: permissions}
}

// ListPermissions lists the catalogue, optionally filtered by ?category=.
func (h *PermissionHandler) ListPermissions(c *gin.Context) {
	permissions, err := h.permissions.ListPermissions(c.Request.Context(), c.Query("category"))
	if err != nil {
		RespondWithDomainError(c, err, "failed to list permissions")
		return
	}

	out := make([]PermissionPayload, 0, len(permissions))
	for _, p := range permissions {
		out = append(out, newPermissionPayload(p))
	}
	c.JSON(http.StatusOK, out)
}

// GetPermission returns one permission.
func (h *PermissionHandler) GetPermission(c *gin.Context) {
	permission, err := h.permissions.GetPermission(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithDomainError(c, err, "failed to load permission")
		return
	}
	c.JSON(http.StatusOK, newPermissionPayload(permission))
}

// CreatePermission adds a permission to the catalogue.
func (h *PermissionHandler) CreatePermission(c *gin.Context) {
	var req PermissionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permission payload"))
		return
	}

	permission, err := h.permissions.CreatePermission(c.Request.Context(), usecase.CreatePermissionInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to create permission")
		return
	}
	c.JSON(http.StatusCreated, newPermissionPayload(permission))
}

// UpdatePermission applies a partial update.
func (h *PermissionHandler) UpdatePermission(c *gin.Context) {
	var req PermissionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permission payload"))
		return
	}

	permission, err := h.permissions.UpdatePermission(c.Request.Context(), c.Param("id"), usecase.UpdatePermissionInput{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to update permission")
		return
	}
	c.JSON(http.StatusOK, newPermissionPayload(permission))
}

// DeletePermission removes a non-system permission.
func (h *PermissionHandler) DeletePermission(c *gin.Context) {
	if err := h.permissions.DeletePermission(c.Request.Context(), c.Param("id")); err != nil {
		RespondWithDomainError(c, err, "failed to delete permission")
		return
	}
	c.Status(http.StatusNoContent)
}
