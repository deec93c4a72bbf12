package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/infra/logger"
	"github.com/arklim/superauth/internal/infra/security"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, TraceID: GetTraceID(c)}
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*security.ActorClaims, error)
}

// PermissionChecker answers permission checks for the authenticated actor.
type PermissionChecker interface {
	HasAllPermissions(ctx context.Context, userID string, permissions ...string) bool
}

// RequireActor validates the bearer token and stores the actor in the gin and request contexts.
func RequireActor(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "authentication not configured"))
			return
		}

		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing bearer token"))
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
			return
		}

		actorID := claims.Actor()
		c.Set(ActorIDKey, actorID)
		GetRequestContext(c).ActorID = actorID
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.ActorIDKey{}, actorID))

		c.Next()
	}
}

// RequirePermission rejects actors lacking any of permissions.
func RequirePermission(checker PermissionChecker, permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := GetActorID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}
		if checker == nil || !checker.HasAllPermissions(c.Request.Context(), actorID, permissions...) {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient permissions"))
			return
		}
		c.Next()
	}
}

// RequireSelfOrPermission lets an actor read their own resource identified by param,
// and otherwise requires permissions.
func RequireSelfOrPermission(checker PermissionChecker, param string, permissions ...string) gin.HandlerFunc {
	guard := RequirePermission(checker, permissions...)
	return func(c *gin.Context) {
		if actorID, ok := GetActorID(c); ok && actorID == c.Param(param) {
			c.Next()
			return
		}
		guard(c)
	}
}
