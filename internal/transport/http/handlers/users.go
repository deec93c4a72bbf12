package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/transport/http/middleware"
	"github.com/arklim/superauth/internal/usecase"
)

// RoleAssigner manages user-role edges.
type RoleAssigner interface {
	AssignRoleToUser(ctx context.Context, actorID, userID, roleID string, opts usecase.AssignRoleOptions) (bool, error)
	RemoveRoleFromUser(ctx context.Context, actorID, userID, roleID string) (bool, error)
}

// PermissionGranter manages direct user grants.
type PermissionGranter interface {
	GrantToUser(ctx context.Context, actorID, userID, permissionName string) (bool, error)
	RevokeFromUser(ctx context.Context, userID, permissionName string) (bool, error)
}

// AuthorizationReader answers authorization questions.
type AuthorizationReader interface {
	Authorize(ctx context.Context, userID, permissionOrRole string) bool
	UserAuthorization(ctx context.Context, userID string) (usecase.UserAuthorization, error)
}

// UserHandler serves /users/:id.
type UserHandler struct {
	roles       RoleAssigner
	permissions PermissionGranter
	authz       AuthorizationReader
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(roles RoleAssigner, permissions PermissionGranter, authz AuthorizationReader) *UserHandler {
	return &UserHandler{roles: roles, permissions: permissions, authz: authz}
}

// AssignRole assigns a role to the user.
func (h *UserHandler) AssignRole(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid assignment payload"))
		return
	}

	created, err := h.roles.AssignRoleToUser(c.Request.Context(), actorID, c.Param("id"), req.RoleID, usecase.AssignRoleOptions{
		ExpiresAt: req.ExpiresAt,
		Notes:     req.Notes,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to assign role")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ChangedResponse{Changed: created})
}

// RemoveRole removes a role from the user.
func (h *UserHandler) RemoveRole(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	removed, err := h.roles.RemoveRoleFromUser(c.Request.Context(), actorID, c.Param("id"), c.Param("roleId"))
	if err != nil {
		RespondWithDomainError(c, err, "failed to remove role")
		return
	}
	c.JSON(http.StatusOK, ChangedResponse{Changed: removed})
}

// GrantPermission grants a permission directly to the user.
func (h *UserHandler) GrantPermission(c *gin.Context) {
	actorID, _ := middleware.GetActorID(c)

	var req GrantPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid grant payload"))
		return
	}

	granted, err := h.permissions.GrantToUser(c.Request.Context(), actorID, c.Param("id"), req.Permission)
	if err != nil {
		RespondWithDomainError(c, err, "failed to grant permission")
		return
	}

	status := http.StatusOK
	if granted {
		status = http.StatusCreated
	}
	c.JSON(status, ChangedResponse{Changed: granted})
}

// RevokePermission removes a direct grant.
func (h *UserHandler) RevokePermission(c *gin.Context) {
	revoked, err := h.permissions.RevokeFromUser(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		RespondWithDomainError(c, err, "failed to revoke permission")
		return
	}
	c.JSON(http.StatusOK, ChangedResponse{Changed: revoked})
}

// Authorization returns the user's effective roles and permissions.
func (h *UserHandler) Authorization(c *gin.Context) {
	auth, err := h.authz.UserAuthorization(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithDomainError(c, err, "failed to resolve authorization")
		return
	}
	c.JSON(http.StatusOK, newUserAuthorizationResponse(auth))
}

// Authorize answers a single permission-or-role check.
func (h *UserHandler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid authorize payload"))
		return
	}

	c.JSON(http.StatusOK, AuthorizeResponse{
		UserID:  req.UserID,
		Check:   req.Check,
		Allowed: h.authz.Authorize(c.Request.Context(), req.UserID, req.Check),
	})
}
