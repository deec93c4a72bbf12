package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeDB backs the role, assignment and permission fakes so they see each other's writes.
type fakeDB struct {
	mu          sync.Mutex
	roles       map[string]domain.Role
	permissions map[string]domain.Permission
	rolePerms   map[string]map[string]struct{}
	userRoles   []domain.UserRole
	userPerms   []domain.UserPermission

	roleListCalls int
	userListCalls int
	listErr       error
	deleteErr     map[string]error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		roles:       make(map[string]domain.Role),
		permissions: make(map[string]domain.Permission),
		rolePerms:   make(map[string]map[string]struct{}),
		deleteErr:   make(map[string]error),
	}
}

func (db *fakeDB) addRole(role domain.Role) domain.Role {
	db.mu.Lock()
	defer db.mu.Unlock()
	if role.Guard == "" {
		role.Guard = domain.DefaultGuard
	}
	db.roles[role.ID] = role
	return role
}

func (db *fakeDB) addPermission(p domain.Permission) domain.Permission {
	db.mu.Lock()
	defer db.mu.Unlock()
	if p.Guard == "" {
		p.Guard = domain.DefaultGuard
	}
	if p.ID == "" {
		p.ID = "perm-" + p.Name
	}
	db.permissions[p.ID] = p
	return p
}

func (db *fakeDB) permissionByName(name string) (domain.Permission, bool) {
	for _, p := range db.permissions {
		if p.Name == name {
			return p, true
		}
	}
	return domain.Permission{}, false
}

func (db *fakeDB) grant(roleID string, names ...string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.grantLocked(roleID, names)
}

func (db *fakeDB) grantLocked(roleID string, names []string) int {
	set, ok := db.rolePerms[roleID]
	if !ok {
		set = make(map[string]struct{})
		db.rolePerms[roleID] = set
	}
	n := 0
	for _, name := range names {
		p, ok := db.permissionByName(name)
		if !ok {
			continue
		}
		if _, exists := set[p.ID]; !exists {
			set[p.ID] = struct{}{}
			n++
		}
	}
	return n
}

func (db *fakeDB) countActiveLocked(roleID string, now time.Time) int {
	n := 0
	for _, edge := range db.userRoles {
		if edge.RoleID == roleID && !edge.IsExpired(now) {
			n++
		}
	}
	return n
}

type fakeRoleRepo struct{ db *fakeDB }

func (r fakeRoleRepo) Create(_ context.Context, role domain.Role, permissionNames []string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.roles {
		if existing.Guard == role.Guard && existing.Name == role.Name {
			return 0, repository.ErrDuplicate
		}
	}
	r.db.roles[role.ID] = role
	return r.db.grantLocked(role.ID, permissionNames), nil
}

func (r fakeRoleRepo) Update(_ context.Context, role domain.Role) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.roles[role.ID]; !ok {
		return repository.ErrNotFound
	}
	r.db.roles[role.ID] = role
	return nil
}

func (r fakeRoleRepo) Upsert(_ context.Context, role domain.Role) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, existing := range r.db.roles {
		if existing.Guard == role.Guard && existing.Name == role.Name {
			role.ID = id
			role.CreatedAt = existing.CreatedAt
			break
		}
	}
	r.db.roles[role.ID] = role
	return &role, nil
}

func (r fakeRoleRepo) GetByID(_ context.Context, id string) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	role, ok := r.db.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &role, nil
}

func (r fakeRoleRepo) GetByName(_ context.Context, guard, name string) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, role := range r.db.roles {
		if role.Guard == guard && role.Name == name {
			return &role, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeRoleRepo) List(_ context.Context) ([]domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.roleListCalls++
	if r.db.listErr != nil {
		return nil, r.db.listErr
	}
	out := make([]domain.Role, 0, len(r.db.roles))
	for _, role := range r.db.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeRoleRepo) DeleteIfUnused(_ context.Context, id string, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.deleteErr[id]; err != nil {
		return false, err
	}
	if _, ok := r.db.roles[id]; !ok {
		return false, nil
	}
	if r.db.countActiveLocked(id, now) > 0 {
		return false, nil
	}
	delete(r.db.roles, id)
	delete(r.db.rolePerms, id)
	return true, nil
}

func (r fakeRoleRepo) CountActiveAssignments(_ context.Context, roleID string, now time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.countActiveLocked(roleID, now), nil
}

type fakeAssignmentRepo struct{ db *fakeDB }

func (r fakeAssignmentRepo) Assign(_ context.Context, assignment domain.UserRole, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.roles[assignment.RoleID]; !ok {
		return false, repository.ErrNotFound
	}
	for i, edge := range r.db.userRoles {
		if edge.UserID == assignment.UserID && edge.RoleID == assignment.RoleID && edge.Guard == assignment.Guard {
			if !edge.IsExpired(now) {
				return false, nil
			}
			r.db.userRoles[i] = assignment
			return true, nil
		}
	}
	r.db.userRoles = append(r.db.userRoles, assignment)
	return true, nil
}

func (r fakeAssignmentRepo) Remove(_ context.Context, userID, roleID, guard string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, edge := range r.db.userRoles {
		if edge.UserID == userID && edge.RoleID == roleID && edge.Guard == guard {
			r.db.userRoles = append(r.db.userRoles[:i], r.db.userRoles[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r fakeAssignmentRepo) ListByUser(_ context.Context, userID string) ([]domain.UserRole, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.userListCalls++
	var out []domain.UserRole
	for _, edge := range r.db.userRoles {
		if edge.UserID == userID {
			out = append(out, edge)
		}
	}
	return out, nil
}

type fakePermissionRepo struct{ db *fakeDB }

func (r fakePermissionRepo) Create(_ context.Context, permission domain.Permission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.permissionByName(permission.Name); ok {
		return repository.ErrDuplicate
	}
	r.db.permissions[permission.ID] = permission
	return nil
}

func (r fakePermissionRepo) Update(_ context.Context, permission domain.Permission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.permissions[permission.ID]; !ok {
		return repository.ErrNotFound
	}
	r.db.permissions[permission.ID] = permission
	return nil
}

func (r fakePermissionRepo) Upsert(_ context.Context, permission domain.Permission) (*domain.Permission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if existing, ok := r.db.permissionByName(permission.Name); ok {
		permission.ID = existing.ID
	}
	r.db.permissions[permission.ID] = permission
	return &permission, nil
}

func (r fakePermissionRepo) Delete(_ context.Context, id string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.permissions[id]; !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.db.permissions, id)
	for _, set := range r.db.rolePerms {
		delete(set, id)
	}

	var grantees []string
	kept := r.db.userPerms[:0]
	for _, grant := range r.db.userPerms {
		if grant.PermissionID == id {
			grantees = append(grantees, grant.UserID)
			continue
		}
		kept = append(kept, grant)
	}
	r.db.userPerms = kept
	return grantees, nil
}

func (r fakePermissionRepo) GetByID(_ context.Context, id string) (*domain.Permission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.permissions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r fakePermissionRepo) GetByName(_ context.Context, guard, name string) (*domain.Permission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.permissionByName(name)
	if !ok || p.Guard != guard {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r fakePermissionRepo) List(_ context.Context, filter port.PermissionFilter) ([]domain.Permission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Permission
	for _, p := range r.db.permissions {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r fakePermissionRepo) Count(_ context.Context) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.permissions), nil
}

func (r fakePermissionRepo) ListRoleGrants(_ context.Context) (map[string][]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[string][]string, len(r.db.rolePerms))
	for roleID, set := range r.db.rolePerms {
		for permID := range set {
			out[roleID] = append(out[roleID], r.db.permissions[permID].Name)
		}
		sort.Strings(out[roleID])
	}
	return out, nil
}

func (r fakePermissionRepo) ListByRole(_ context.Context, roleID string) ([]domain.Permission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Permission
	for permID := range r.db.rolePerms[roleID] {
		out = append(out, r.db.permissions[permID])
	}
	return out, nil
}

func (r fakePermissionRepo) AttachToRole(_ context.Context, roleID, _ string, names []string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.grantLocked(roleID, names), nil
}

func (r fakePermissionRepo) DetachFromRole(_ context.Context, roleID, _ string, names []string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, name := range names {
		if p, ok := r.db.permissionByName(name); ok {
			if _, held := r.db.rolePerms[roleID][p.ID]; held {
				delete(r.db.rolePerms[roleID], p.ID)
				n++
			}
		}
	}
	return n, nil
}

func (r fakePermissionRepo) SyncRole(ctx context.Context, roleID, guard string, names []string) (int, int, error) {
	r.db.mu.Lock()
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	var stale []string
	for permID := range r.db.rolePerms[roleID] {
		name := r.db.permissions[permID].Name
		if _, keep := wanted[name]; !keep {
			stale = append(stale, name)
		}
	}
	r.db.mu.Unlock()

	detached, _ := r.DetachFromRole(ctx, roleID, guard, stale)
	attached, _ := r.AttachToRole(ctx, roleID, guard, names)
	return attached, detached, nil
}

func (r fakePermissionRepo) GrantToUser(_ context.Context, grant domain.UserPermission) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.userPerms {
		if existing.UserID == grant.UserID && existing.PermissionID == grant.PermissionID {
			return false, nil
		}
	}
	r.db.userPerms = append(r.db.userPerms, grant)
	return true, nil
}

func (r fakePermissionRepo) RevokeFromUser(_ context.Context, userID, permissionID, _ string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, existing := range r.db.userPerms {
		if existing.UserID == userID && existing.PermissionID == permissionID {
			r.db.userPerms = append(r.db.userPerms[:i], r.db.userPerms[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r fakePermissionRepo) ListDirectNamesByUser(_ context.Context, userID, guard string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []string
	for _, grant := range r.db.userPerms {
		if grant.UserID == userID && grant.Guard == guard {
			out = append(out, r.db.permissions[grant.PermissionID].Name)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.deleted = append(c.deleted, key)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type fakeEvents struct {
	mu          sync.Mutex
	assigned    []domain.RolesAssignedEvent
	revoked     []domain.RolesRevokedEvent
	changed     []domain.RoleChangedEvent
	invalidated []domain.RBACInvalidatedEvent
	anomalies   []domain.LoginAnomalyDetectedEvent
	err         error
}

func (e *fakeEvents) PublishRolesAssigned(_ context.Context, event domain.RolesAssignedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assigned = append(e.assigned, event)
	return e.err
}

func (e *fakeEvents) PublishRolesRevoked(_ context.Context, event domain.RolesRevokedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revoked = append(e.revoked, event)
	return e.err
}

func (e *fakeEvents) PublishRoleChanged(_ context.Context, event domain.RoleChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed = append(e.changed, event)
	return e.err
}

func (e *fakeEvents) PublishRBACInvalidated(_ context.Context, event domain.RBACInvalidatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidated = append(e.invalidated, event)
	return e.err
}

func (e *fakeEvents) PublishLoginAnomaly(_ context.Context, event domain.LoginAnomalyDetectedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anomalies = append(e.anomalies, event)
	return e.err
}

type sentNotification struct {
	recipient string
	template  string
	data      map[string]any
}

type fakeNotifier struct {
	sent []sentNotification
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, recipient, template string, data map[string]any) error {
	n.sent = append(n.sent, sentNotification{recipient: recipient, template: template, data: data})
	return n.err
}

// fakeRateLimitStore keeps attempt timestamps per key in memory.
type fakeRateLimitStore struct {
	attempts map[string][]time.Time
	err      error
}

func newFakeRateLimitStore() *fakeRateLimitStore {
	return &fakeRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *fakeRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if s.err != nil {
		return s.err
	}
	cutoff := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *fakeRateLimitStore) CountAttempts(_ context.Context, identifier string, _ time.Duration, _ time.Time) (int, error) {
	return len(s.attempts[identifier]), nil
}

func (s *fakeRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *fakeRateLimitStore) OldestAttempt(_ context.Context, identifier string, _ time.Duration, _ time.Time) (time.Time, bool, error) {
	list := s.attempts[identifier]
	if len(list) == 0 {
		return time.Time{}, false, nil
	}
	return list[0], true, nil
}

// plainHasher prefixes secrets so tests can tell hashes from codes.
type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) { return "h:" + secret, nil }

func (plainHasher) Verify(secret, encoded string) (bool, error) {
	return encoded == "h:"+secret, nil
}

type upperFingerprinter struct{}

func (upperFingerprinter) Fingerprint(secret string) string { return "fp:" + strings.ToUpper(secret) }

// rbacFixture wires the RBAC services over one fakeDB.
type rbacFixture struct {
	db          *fakeDB
	cache       *fakeCache
	events      *fakeEvents
	hierarchy   *RoleHierarchy
	authz       *Authorizer
	invalidator *CacheInvalidator
	roles       *RoleService
	permissions *PermissionService
}

func newRBACFixture() *rbacFixture {
	db := newFakeDB()
	cache := newFakeCache()
	events := &fakeEvents{}

	hierarchy := NewRoleHierarchy(fakeRoleRepo{db}, fakePermissionRepo{db}, cache, time.Hour, nil).WithClock(fixedClock)
	authz := NewAuthorizer(hierarchy, fakeAssignmentRepo{db}, fakePermissionRepo{db}, cache, AuthorizerOptions{}).WithClock(fixedClock)
	invalidator := NewCacheInvalidator(hierarchy, authz, events, "instance-a", nil)
	roles := NewRoleService(fakeRoleRepo{db}, fakeAssignmentRepo{db}, fakePermissionRepo{db}, hierarchy, authz, invalidator, events,
		RoleServiceConfig{MinLevel: 1, MaxLevel: 100}, nil).WithClock(fixedClock)
	permissions := NewPermissionService(fakePermissionRepo{db}, invalidator, "", nil).WithClock(fixedClock)

	return &rbacFixture{
		db:          db,
		cache:       cache,
		events:      events,
		hierarchy:   hierarchy,
		authz:       authz,
		invalidator: invalidator,
		roles:       roles,
		permissions: permissions,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func stringPtr(s string) *string { return &s }

func domainRole(id, name string, level int, active bool, expiresAt *time.Time) domain.Role {
	return domain.Role{
		ID:        id,
		Name:      name,
		Guard:     domain.DefaultGuard,
		Level:     level,
		IsActive:  active,
		ExpiresAt: expiresAt,
		CreatedAt: testNow.Add(-30 * 24 * time.Hour),
	}
}

func domainPermission(name string) domain.Permission {
	return domain.Permission{
		ID:       "perm-" + name,
		Name:     name,
		Guard:    domain.DefaultGuard,
		Category: domain.PermissionCategory(name),
	}
}

func (db *fakeDB) assign(userID, roleID string, assignedAt time.Time, expiresAt *time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.userRoles = append(db.userRoles, domain.UserRole{
		UserID:     userID,
		RoleID:     roleID,
		Guard:      domain.DefaultGuard,
		ExpiresAt:  expiresAt,
		AssignedAt: assignedAt,
	})
}

var errTest = errors.New("store unavailable")

func userPermission(userID, permissionID string) domain.UserPermission {
	return domain.UserPermission{
		UserID:       userID,
		PermissionID: permissionID,
		Guard:        domain.DefaultGuard,
		GrantedAt:    testNow,
	}
}
