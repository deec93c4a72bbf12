package usecase

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
)

// CacheInvalidator drops local RBAC caches and broadcasts the invalidation to peer instances.
type CacheInvalidator struct {
	hierarchy *RoleHierarchy
	authz     *Authorizer
	events    port.EventPublisher
	origin    string
	logger    *zap.Logger
	now       func() time.Time
}

// NewCacheInvalidator constructs an invalidator. origin identifies this instance so it
// can ignore its own broadcasts; an empty origin gets a random one.
func NewCacheInvalidator(hierarchy *RoleHierarchy, authz *Authorizer, events port.EventPublisher, origin string, logger *zap.Logger) *CacheInvalidator {
	if origin == "" {
		origin = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheInvalidator{
		hierarchy: hierarchy,
		authz:     authz,
		events:    events,
		origin:    origin,
		logger:    logger,
		now:       time.Now,
	}
}

// Origin returns the instance identifier stamped on broadcasts.
func (i *CacheInvalidator) Origin() string {
	return i.origin
}

// HierarchyChanged drops the catalogue caches after a role or permission mutation.
func (i *CacheInvalidator) HierarchyChanged(ctx context.Context) {
	i.hierarchy.Invalidate(ctx)
	i.broadcast(ctx, domain.RBACInvalidateHierarchy, "")
}

// UserChanged drops one user's snapshot after an edge mutation.
func (i *CacheInvalidator) UserChanged(ctx context.Context, userID string) {
	i.authz.InvalidateUser(ctx, userID)
	i.broadcast(ctx, domain.RBACInvalidateUser, userID)
}

// ApplyRemote applies a peer's broadcast locally. Events stamped with this instance's
// origin are ignored.
func (i *CacheInvalidator) ApplyRemote(ctx context.Context, event domain.RBACInvalidatedEvent) {
	if event.Origin == i.origin {
		return
	}
	switch event.Scope {
	case domain.RBACInvalidateHierarchy:
		i.hierarchy.Invalidate(ctx)
	case domain.RBACInvalidateUser:
		i.authz.InvalidateUser(ctx, event.UserID)
	default:
		i.logger.Warn("unknown rbac invalidation scope", zap.String("scope", string(event.Scope)))
	}
}

func (i *CacheInvalidator) broadcast(ctx context.Context, scope domain.RBACInvalidationScope, userID string) {
	if i.events == nil {
		return
	}
	event := domain.RBACInvalidatedEvent{
		EventID:  uuid.NewString(),
		Scope:    scope,
		UserID:   userID,
		Origin:   i.origin,
		IssuedAt: i.now().UTC(),
	}
	if err := i.events.PublishRBACInvalidated(ctx, event); err != nil {
		i.logger.Warn("publish rbac invalidation failed",
			zap.String("scope", string(scope)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
