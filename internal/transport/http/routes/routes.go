package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/infra/config"
	"github.com/arklim/superauth/internal/transport/http/handlers"
	"github.com/arklim/superauth/internal/transport/http/middleware"
)

// RoleService is the role surface the HTTP layer depends on.
type RoleService interface {
	handlers.RoleManager
	handlers.RoleAssigner
}

// PermissionService is the permission surface the HTTP layer depends on.
type PermissionService interface {
	handlers.PermissionManager
	handlers.PermissionGranter
}

// Authorizer answers both route guards and authorization reads.
type Authorizer interface {
	handlers.AuthorizationReader
	middleware.PermissionChecker
}

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Roles       RoleService
	Catalog     handlers.RoleCatalog
	Permissions PermissionService
	Authorizer  Authorizer
	Passwords   handlers.PasswordChecker
	Logins      handlers.LoginScorer
	OTP         handlers.OTPManager
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Verifier    middleware.TokenVerifier
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())

	checks := make(map[string]handlers.ReadinessCheck, 2)
	if deps.Database != nil {
		checks["database"] = deps.Database.Ping
	}
	if deps.Cache != nil {
		checks["redis"] = deps.Cache.HealthCheck
	}
	healthHandler := handlers.NewHealthHandler(checks, deps.Logger)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Gatherer)))

	api := r.Group("/api/v1")
	api.Use(middleware.RequireActor(deps.Verifier))

	svc := deps.Services
	authz := svc.Authorizer
	can := func(permissions ...string) gin.HandlerFunc {
		return middleware.RequirePermission(authz, permissions...)
	}

	if svc.Roles != nil && svc.Catalog != nil {
		roleHandler := handlers.NewRoleHandler(svc.Roles, svc.Catalog)
		if deps.Config != nil {
			roleHandler.WithExpiringWindow(deps.Config.RBAC.ExpiringWithin)
		}
		roles := api.Group("/roles")
		roles.GET("", can("roles.view"), roleHandler.ListRoles)
		roles.POST("", can("roles.create"), roleHandler.CreateRole)
		roles.GET("/stats", can("roles.view"), roleHandler.Stats)
		roles.GET("/expiring", can("roles.view"), roleHandler.Expiring)
		roles.GET("/:id", can("roles.view"), roleHandler.GetRole)
		roles.PATCH("/:id", can("roles.update"), roleHandler.UpdateRole)
		roles.DELETE("/:id", can("roles.delete"), roleHandler.DeleteRole)
		roles.PUT("/:id/permissions", can("roles.update", "permissions.assign"), roleHandler.SetPermissions)
	}

	if svc.Permissions != nil {
		permissionHandler := handlers.NewPermissionHandler(svc.Permissions)
		permissions := api.Group("/permissions")
		permissions.GET("", can("permissions.view"), permissionHandler.ListPermissions)
		permissions.POST("", can("permissions.create"), permissionHandler.CreatePermission)
		permissions.GET("/:id", can("permissions.view"), permissionHandler.GetPermission)
		permissions.PATCH("/:id", can("permissions.update"), permissionHandler.UpdatePermission)
		permissions.DELETE("/:id", can("permissions.delete"), permissionHandler.DeletePermission)
	}

	if svc.Roles != nil && svc.Permissions != nil && authz != nil {
		userHandler := handlers.NewUserHandler(svc.Roles, svc.Permissions, authz)
		users := api.Group("/users/:id")
		users.POST("/roles", can("roles.assign"), userHandler.AssignRole)
		users.DELETE("/roles/:roleId", can("roles.assign"), userHandler.RemoveRole)
		users.POST("/permissions", can("permissions.assign"), userHandler.GrantPermission)
		users.DELETE("/permissions/:name", can("permissions.assign"), userHandler.RevokePermission)
		users.GET("/authorization", middleware.RequireSelfOrPermission(authz, "id", "users.view"), userHandler.Authorization)

		api.POST("/authorize", can("users.view"), userHandler.Authorize)
	}

	securityHandler := handlers.NewSecurityHandler(svc.Passwords, svc.Logins, svc.OTP)
	if svc.Passwords != nil {
		api.POST("/passwords/analyze", securityHandler.AnalyzePassword)
		api.POST("/passwords/check", securityHandler.CheckPassword)
	}
	if svc.Logins != nil {
		api.POST("/logins/score", can("security.view"), securityHandler.ScoreLogin)
	}
	if svc.OTP != nil {
		api.POST("/otp", securityHandler.GenerateOTP)
		api.POST("/otp/verify", append(buildOTPVerifyMiddlewares(deps), securityHandler.VerifyOTP)...)
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func buildOTPVerifyMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.OTPVerifyAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "otp_verify_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
