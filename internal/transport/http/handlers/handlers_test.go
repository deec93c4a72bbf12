package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/transport/http/middleware"
	"github.com/arklim/superauth/internal/usecase"
)

type fakeRoleManager struct {
	roles      []domain.Role
	created    usecase.CreateRoleInput
	createErr  error
	deleteErr  error
	lastActor  string
	lastMode   string
	lastNames  []string
	assignRes  bool
	assignOpts usecase.AssignRoleOptions
}

func (f *fakeRoleManager) ListRoles(context.Context) ([]domain.Role, error) { return f.roles, nil }

func (f *fakeRoleManager) GetRole(_ context.Context, roleID string) (domain.Role, error) {
	for _, r := range f.roles {
		if r.ID == roleID {
			return r, nil
		}
	}
	return domain.Role{}, domain.ErrRoleNotFound
}

func (f *fakeRoleManager) CreateRole(_ context.Context, actorID string, input usecase.CreateRoleInput) (usecase.CreateRoleResult, error) {
	f.lastActor = actorID
	f.created = input
	if f.createErr != nil {
		return usecase.CreateRoleResult{}, f.createErr
	}
	return usecase.CreateRoleResult{
		Role:                domain.Role{ID: "r-new", Name: input.Name, Level: input.Level, IsActive: true},
		AttachedPermissions: len(input.Permissions),
	}, nil
}

func (f *fakeRoleManager) UpdateRole(_ context.Context, actorID, roleID string, input usecase.UpdateRoleInput) (domain.Role, error) {
	f.lastActor = actorID
	role, err := f.GetRole(context.Background(), roleID)
	if err != nil {
		return domain.Role{}, err
	}
	if input.Level != nil {
		role.Level = *input.Level
	}
	return role, nil
}

func (f *fakeRoleManager) DeleteRole(_ context.Context, actorID, _ string) error {
	f.lastActor = actorID
	return f.deleteErr
}

func (f *fakeRoleManager) AttachPermissions(_ context.Context, _, _ string, names []string) (int, error) {
	f.lastMode, f.lastNames = "attach", names
	return len(names), nil
}

func (f *fakeRoleManager) DetachPermissions(_ context.Context, _, _ string, names []string) (int, error) {
	f.lastMode, f.lastNames = "detach", names
	return len(names), nil
}

func (f *fakeRoleManager) SyncPermissions(_ context.Context, _, _ string, names []string) (int, int, error) {
	f.lastMode, f.lastNames = "sync", names
	return len(names), 1, nil
}

func (f *fakeRoleManager) AssignRoleToUser(_ context.Context, actorID, _, _ string, opts usecase.AssignRoleOptions) (bool, error) {
	f.lastActor = actorID
	f.assignOpts = opts
	return f.assignRes, nil
}

func (f *fakeRoleManager) RemoveRoleFromUser(context.Context, string, string, string) (bool, error) {
	return false, nil
}

type fakeCatalog struct {
	days int
}

func (f *fakeCatalog) Stats(context.Context) (domain.RoleStats, error) {
	return domain.RoleStats{TotalRoles: 4, SystemRoles: 4}, nil
}

func (f *fakeCatalog) ExpiringWithin(_ context.Context, days int) ([]domain.Role, error) {
	f.days = days
	return nil, nil
}

type fakeAuthz struct {
	allowed map[string]bool
	auth    usecase.UserAuthorization
}

func (f *fakeAuthz) Authorize(_ context.Context, userID, check string) bool {
	return f.allowed[userID+":"+check]
}

func (f *fakeAuthz) UserAuthorization(_ context.Context, userID string) (usecase.UserAuthorization, error) {
	if userID == "" {
		return usecase.UserAuthorization{}, domain.ValidationError("user id is required")
	}
	return f.auth, nil
}

type fakeOTPManager struct {
	issued    domain.OTPIssued
	verifyErr error
	input     usecase.GenerateOTPInput
}

func (f *fakeOTPManager) Generate(_ context.Context, input usecase.GenerateOTPInput) (domain.OTPIssued, error) {
	f.input = input
	return f.issued, nil
}

func (f *fakeOTPManager) Verify(context.Context, string, domain.OTPPurpose, string) error {
	return f.verifyErr
}

type fakePasswordChecker struct {
	input usecase.PasswordCheckInput
	err   error
}

func (f *fakePasswordChecker) AnalyzePassword(password string) (domain.PasswordAnalysis, error) {
	return domain.PasswordAnalysis{Score: len(password)}, nil
}

func (f *fakePasswordChecker) CheckPassword(_ context.Context, input usecase.PasswordCheckInput) (domain.PasswordCheckResult, error) {
	f.input = input
	if f.err != nil {
		return domain.PasswordCheckResult{}, f.err
	}
	return domain.PasswordCheckResult{Breach: domain.BreachCheckResult{Count: 3, RiskLevel: domain.BreachRiskLow}}, nil
}

func (f *fakePasswordChecker) ScoreLogin(_ context.Context, event domain.LoginEvent) (domain.LoginRiskAssessment, error) {
	if event.AttemptedAt.IsZero() {
		return domain.LoginRiskAssessment{}, errors.New("attempted_at should be set by the caller in this test")
	}
	return domain.LoginRiskAssessment{RiskScore: 25}, nil
}

func newTestRouter(actorID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.EnrichContext(), func(c *gin.Context) {
		if actorID != "" {
			c.Set(middleware.ActorIDKey, actorID)
		}
		c.Next()
	})
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRoleHandlerCreateRole(t *testing.T) {
	roles := &fakeRoleManager{}
	h := NewRoleHandler(roles, &fakeCatalog{})
	router := newTestRouter("admin-1")
	router.POST("/roles", h.CreateRole)

	rr := doJSON(t, router, http.MethodPost, "/roles", map[string]any{
		"name":        "editor",
		"level":       40,
		"permissions": []string{"posts.edit", "posts.view"},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if roles.lastActor != "admin-1" || roles.created.Level != 40 {
		t.Fatalf("unexpected create call: actor=%s input=%+v", roles.lastActor, roles.created)
	}

	var resp RoleCreateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Role.Name != "editor" || resp.AttachedPermissions != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRoleHandlerCreateRoleMapsConflict(t *testing.T) {
	h := NewRoleHandler(&fakeRoleManager{createErr: domain.ErrRoleExists}, &fakeCatalog{})
	router := newTestRouter("admin-1")
	router.POST("/roles", h.CreateRole)

	if rr := doJSON(t, router, http.MethodPost, "/roles", map[string]any{"name": "admin"}); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodPost, "/roles", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", rr.Code)
	}
}

func TestRoleHandlerDeleteProtectedRole(t *testing.T) {
	h := NewRoleHandler(&fakeRoleManager{deleteErr: domain.ErrSystemRoleProtected}, &fakeCatalog{})
	router := newTestRouter("admin-1")
	router.DELETE("/roles/:id", h.DeleteRole)

	if rr := doJSON(t, router, http.MethodDelete, "/roles/r-1", nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestRoleHandlerExpiringDays(t *testing.T) {
	catalog := &fakeCatalog{}
	h := NewRoleHandler(&fakeRoleManager{}, catalog)
	router := newTestRouter("admin-1")
	router.GET("/roles/expiring", h.Expiring)

	if rr := doJSON(t, router, http.MethodGet, "/roles/expiring", nil); rr.Code != http.StatusOK || catalog.days != defaultExpiringDays {
		t.Fatalf("expected default days, got status=%d days=%d", rr.Code, catalog.days)
	}
	if rr := doJSON(t, router, http.MethodGet, "/roles/expiring?days=30", nil); rr.Code != http.StatusOK || catalog.days != 30 {
		t.Fatalf("expected 30 days, got status=%d days=%d", rr.Code, catalog.days)
	}
	if rr := doJSON(t, router, http.MethodGet, "/roles/expiring?days=-1", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRoleHandlerSetPermissionsModes(t *testing.T) {
	roles := &fakeRoleManager{}
	h := NewRoleHandler(roles, &fakeCatalog{})
	router := newTestRouter("admin-1")
	router.PUT("/roles/:id/permissions", h.SetPermissions)

	rr := doJSON(t, router, http.MethodPut, "/roles/r-1/permissions", map[string]any{"permissions": []string{"a.b"}})
	if rr.Code != http.StatusOK || roles.lastMode != "sync" {
		t.Fatalf("expected sync by default, got status=%d mode=%s", rr.Code, roles.lastMode)
	}

	var resp RolePermissionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Attached != 1 || resp.Detached != 1 {
		t.Fatalf("unexpected counts: %+v", resp)
	}

	if rr := doJSON(t, router, http.MethodPut, "/roles/r-1/permissions", map[string]any{"mode": "detach", "permissions": []string{"a.b"}}); rr.Code != http.StatusOK || roles.lastMode != "detach" {
		t.Fatalf("expected detach, got status=%d mode=%s", rr.Code, roles.lastMode)
	}
	if rr := doJSON(t, router, http.MethodPut, "/roles/r-1/permissions", map[string]any{"mode": "merge"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rr.Code)
	}
}

func TestUserHandlerAssignRole(t *testing.T) {
	roles := &fakeRoleManager{assignRes: true}
	h := NewUserHandler(roles, nil, &fakeAuthz{})
	router := newTestRouter("admin-1")
	router.POST("/users/:id/roles", h.AssignRole)

	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	rr := doJSON(t, router, http.MethodPost, "/users/u-1/roles", map[string]any{"role_id": "r-1", "expires_at": expires})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if roles.assignOpts.ExpiresAt == nil || !roles.assignOpts.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry to be forwarded, got %+v", roles.assignOpts.ExpiresAt)
	}

	roles.assignRes = false
	if rr := doJSON(t, router, http.MethodPost, "/users/u-1/roles", map[string]any{"role_id": "r-1"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for an existing assignment, got %d", rr.Code)
	}
}

func TestUserHandlerAuthorization(t *testing.T) {
	highest := domain.Role{ID: "r-admin", Name: domain.RoleAdmin, Level: 90, IsActive: true}
	authz := &fakeAuthz{
		allowed: map[string]bool{"u-1:roles.view": true},
		auth: usecase.UserAuthorization{
			UserID:      "u-1",
			Roles:       []domain.RoleAssignment{{Role: highest, Assignment: domain.UserRole{UserID: "u-1", RoleID: "r-admin"}}},
			Permissions: []string{"roles.view"},
			HighestRole: &highest,
		},
	}
	h := NewUserHandler(nil, nil, authz)
	router := newTestRouter("u-1")
	router.GET("/users/:id/authorization", h.Authorization)
	router.POST("/authorize", h.Authorize)

	rr := doJSON(t, router, http.MethodGet, "/users/u-1/authorization", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp UserAuthorizationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.HighestRole == nil || resp.HighestRole.Name != domain.RoleAdmin || !resp.HighestRole.IsSystem {
		t.Fatalf("unexpected highest role: %+v", resp.HighestRole)
	}
	if len(resp.Roles) != 1 || resp.Roles[0].Role.Level != 90 {
		t.Fatalf("unexpected roles: %+v", resp.Roles)
	}

	rr = doJSON(t, router, http.MethodPost, "/authorize", AuthorizeRequest{UserID: "u-1", Check: "roles.view"})
	var decision AuthorizeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected roles.view to be allowed")
	}

	rr = doJSON(t, router, http.MethodPost, "/authorize", AuthorizeRequest{UserID: "u-1", Check: "roles.delete"})
	if err := json.Unmarshal(rr.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected roles.delete to be denied")
	}
}

func TestSecurityHandlerCheckPasswordUsesActorAsClientKey(t *testing.T) {
	passwords := &fakePasswordChecker{}
	h := NewSecurityHandler(passwords, passwords, &fakeOTPManager{})
	router := newTestRouter("u-1")
	router.POST("/passwords/check", h.CheckPassword)

	rr := doJSON(t, router, http.MethodPost, "/passwords/check", PasswordRequest{Password: "hunter2"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if passwords.input.ClientKey != "u-1" {
		t.Fatalf("expected actor client key, got %q", passwords.input.ClientKey)
	}

	passwords.err = &domain.RateLimitExceededError{Scope: "password_check", RetryAfter: time.Minute}
	rr = doJSON(t, router, http.MethodPost, "/passwords/check", PasswordRequest{Password: "hunter2"})
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After 60, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestSecurityHandlerScoreLogin(t *testing.T) {
	passwords := &fakePasswordChecker{}
	h := NewSecurityHandler(passwords, passwords, &fakeOTPManager{})
	router := newTestRouter("admin-1")
	router.POST("/logins/score", h.ScoreLogin)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rr := doJSON(t, router, http.MethodPost, "/logins/score", LoginScoreRequest{UserID: "u-1", IPAddress: " 203.0.113.9 ", AttemptedAt: &at})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var assessment domain.LoginRiskAssessment
	if err := json.Unmarshal(rr.Body.Bytes(), &assessment); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if assessment.RiskScore != 25 {
		t.Fatalf("unexpected assessment: %+v", assessment)
	}
}

func TestSecurityHandlerOTP(t *testing.T) {
	otps := &fakeOTPManager{issued: domain.OTPIssued{ID: "otp-1", ExpiresAt: time.Now().Add(5 * time.Minute)}}
	h := NewSecurityHandler(nil, nil, otps)
	router := newTestRouter("u-1")
	router.POST("/otp", h.GenerateOTP)
	router.POST("/otp/verify", h.VerifyOTP)

	rr := doJSON(t, router, http.MethodPost, "/otp", OTPGenerateRequest{Identifier: "user@example.com", Purpose: "Login"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if otps.input.Purpose != domain.OTPPurposeLogin {
		t.Fatalf("expected normalised purpose, got %q", otps.input.Purpose)
	}
	var issued OTPGenerateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if issued.Code != "" {
		t.Fatal("code must not be returned unless exposed")
	}

	if rr := doJSON(t, router, http.MethodPost, "/otp", OTPGenerateRequest{Identifier: "x", Purpose: "bogus"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown purpose, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/otp/verify", OTPVerifyRequest{Identifier: "user@example.com", Purpose: "login", Code: "123456"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	otps.verifyErr = domain.ErrOTPAlreadyUsed
	rr = doJSON(t, router, http.MethodPost, "/otp/verify", OTPVerifyRequest{Identifier: "user@example.com", Purpose: "login", Code: "123456"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a consumed code, got %d", rr.Code)
	}
}

func TestHealthHandlerReady(t *testing.T) {
	healthy := true
	h := NewHealthHandler(map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		},
	}, nil)
	router := newTestRouter("")
	router.GET("/readyz", h.Ready)
	router.GET("/healthz", h.Status)

	if rr := doJSON(t, router, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/readyz", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rr.Code)
	}

	healthy = false
	rr := doJSON(t, router, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp ReadinessResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["redis"] != "unavailable" || resp.Checks["postgres"] != "ok" {
		t.Fatalf("unexpected checks: %+v", resp.Checks)
	}
}

func TestRoleHandlerExpiringWindowFromConfig(t *testing.T) {
	catalog := &fakeCatalog{}
	h := NewRoleHandler(&fakeRoleManager{}, catalog).WithExpiringWindow(14 * 24 * time.Hour)
	router := newTestRouter("admin-1")
	router.GET("/roles/expiring", h.Expiring)

	if rr := doJSON(t, router, http.MethodGet, "/roles/expiring", nil); rr.Code != http.StatusOK || catalog.days != 14 {
		t.Fatalf("expected 14 days, got status=%d days=%d", rr.Code, catalog.days)
	}
}
