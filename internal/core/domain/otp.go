package domain

import (
	"strings"
	"time"
)

// OTPPurpose scopes a one-time code.
type OTPPurpose string

const (
	OTPPurposeVerification  OTPPurpose = "verification"
	OTPPurposeLogin         OTPPurpose = "login"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
	OTPPurposeTwoFactor     OTPPurpose = "two_factor"
	OTPPurposeSecurity      OTPPurpose = "security"
)

// ParseOTPPurpose validates and normalises a purpose string.
func ParseOTPPurpose(value string) (OTPPurpose, bool) {
	p := OTPPurpose(strings.ToLower(strings.TrimSpace(value)))
	switch p {
	case OTPPurposeVerification, OTPPurposeLogin, OTPPurposePasswordReset, OTPPurposeTwoFactor, OTPPurposeSecurity:
		return p, true
	default:
		return "", false
	}
}

// OTPVerification is a persisted one-time code. CodeHash never holds the plain code.
type OTPVerification struct {
	ID          string
	Identifier  string
	Purpose     OTPPurpose
	CodeHash    string
	ExpiresAt   time.Time
	UsedAt      *time.Time
	VerifiedAt  *time.Time
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// IsExpired reports whether the code expiry has passed at now.
func (o OTPVerification) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// IsConsumed reports whether the code was used or verified.
func (o OTPVerification) IsConsumed() bool {
	return o.UsedAt != nil || o.VerifiedAt != nil
}

// AttemptsExhausted reports whether the attempt budget is spent.
func (o OTPVerification) AttemptsExhausted() bool {
	return o.Attempts >= o.MaxAttempts
}

// IsValid reports whether the code can still be verified at now.
func (o OTPVerification) IsValid(now time.Time) bool {
	return !o.IsExpired(now) && !o.IsConsumed() && !o.AttemptsExhausted()
}

// OTPIssued is returned to the caller after generation. Code is only populated
// when the service is configured to expose it (tests and local development).
type OTPIssued struct {
	ID        string
	ExpiresAt time.Time
	Code      string
}
