package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/transport/http/middleware"
	"github.com/arklim/superauth/internal/usecase"
)

// PasswordChecker scores passwords and checks the breach corpus.
type PasswordChecker interface {
	AnalyzePassword(password string) (domain.PasswordAnalysis, error)
	CheckPassword(ctx context.Context, input usecase.PasswordCheckInput) (domain.PasswordCheckResult, error)
}

// LoginScorer scores login attempts.
type LoginScorer interface {
	ScoreLogin(ctx context.Context, event domain.LoginEvent) (domain.LoginRiskAssessment, error)
}

// OTPManager issues and verifies one-time codes.
type OTPManager interface {
	Generate(ctx context.Context, input usecase.GenerateOTPInput) (domain.OTPIssued, error)
	Verify(ctx context.Context, identifier string, purpose domain.OTPPurpose, code string) error
}

// SecurityHandler serves /passwords, /logins and /otp.
type SecurityHandler struct {
	passwords PasswordChecker
	logins    LoginScorer
	otps      OTPManager
}

// NewSecurityHandler constructs a SecurityHandler.
func NewSecurityHandler(passwords PasswordChecker, logins LoginScorer, otps OTPManager) *SecurityHandler {
	return &SecurityHandler{passwords: passwords, logins: logins, otps: otps}
}

// AnalyzePassword scores a password without a breach lookup.
func (h *SecurityHandler) AnalyzePassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "password is required"))
		return
	}

	analysis, err := h.passwords.AnalyzePassword(req.Password)
	if err != nil {
		RespondWithDomainError(c, err, "failed to analyze password")
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// CheckPassword scores a password and looks it up in the breach corpus.
func (h *SecurityHandler) CheckPassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "password is required"))
		return
	}

	clientKey, ok := middleware.GetActorID(c)
	if !ok {
		clientKey = c.ClientIP()
	}

	result, err := h.passwords.CheckPassword(c.Request.Context(), usecase.PasswordCheckInput{
		Password:  req.Password,
		UserID:    req.UserID,
		ClientKey: clientKey,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to check password")
		return
	}
	c.JSON(http.StatusOK, result)
}

// ScoreLogin scores a login attempt and records it in the history.
func (h *SecurityHandler) ScoreLogin(c *gin.Context) {
	var req LoginScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	event := domain.LoginEvent{
		UserID:        req.UserID,
		IPAddress:     strings.TrimSpace(req.IPAddress),
		UserAgent:     req.UserAgent,
		Device:        req.Device,
		Browser:       req.Browser,
		OS:            req.OS,
		Country:       req.Country,
		City:          req.City,
		Success:       req.Success,
		FailureReason: req.FailureReason,
	}
	if req.AttemptedAt != nil {
		event.AttemptedAt = req.AttemptedAt.UTC()
	}

	assessment, err := h.logins.ScoreLogin(c.Request.Context(), event)
	if err != nil {
		RespondWithDomainError(c, err, "failed to score login")
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// GenerateOTP issues a code and dispatches it through the notifier.
func (h *SecurityHandler) GenerateOTP(c *gin.Context) {
	var req OTPGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid otp payload"))
		return
	}
	purpose, ok := domain.ParseOTPPurpose(req.Purpose)
	if !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown otp purpose"))
		return
	}

	issued, err := h.otps.Generate(c.Request.Context(), usecase.GenerateOTPInput{
		Identifier: req.Identifier,
		Purpose:    purpose,
		Recipient:  req.Recipient,
	})
	if err != nil {
		RespondWithDomainError(c, err, "failed to issue otp")
		return
	}

	c.JSON(http.StatusCreated, OTPGenerateResponse{
		ID:        issued.ID,
		ExpiresAt: issued.ExpiresAt,
		Code:      issued.Code,
	})
}

// VerifyOTP consumes a code.
func (h *SecurityHandler) VerifyOTP(c *gin.Context) {
	var req OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid otp payload"))
		return
	}
	purpose, ok := domain.ParseOTPPurpose(req.Purpose)
	if !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown otp purpose"))
		return
	}

	if err := h.otps.Verify(c.Request.Context(), req.Identifier, purpose, req.Code); err != nil {
		RespondWithDomainError(c, err, "failed to verify otp")
		return
	}
	c.JSON(http.StatusOK, OTPVerifyResponse{Verified: true})
}
