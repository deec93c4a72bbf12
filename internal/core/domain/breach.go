package domain

import "time"

// BreachRiskLevel buckets breach counts.
type BreachRiskLevel string

const (
	BreachRiskNone     BreachRiskLevel = "none"
	BreachRiskLow      BreachRiskLevel = "low"
	BreachRiskMedium   BreachRiskLevel = "medium"
	BreachRiskHigh     BreachRiskLevel = "high"
	BreachRiskCritical BreachRiskLevel = "critical"
	BreachRiskUnknown  BreachRiskLevel = "unknown"
)

// BreachRiskLevelFor maps a breach count onto a risk level.
func BreachRiskLevelFor(count int) BreachRiskLevel {
	switch {
	case count >= 1000:
		return BreachRiskCritical
	case count >= 100:
		return BreachRiskHigh
	case count >= 10:
		return BreachRiskMedium
	case count >= 1:
		return BreachRiskLow
	default:
		return BreachRiskNone
	}
}

// BreachStatus records whether a lookup completed.
type BreachStatus string

const (
	BreachStatusChecked  BreachStatus = "checked"
	BreachStatusDegraded BreachStatus = "degraded"
)

// BreachCheckResult is the outcome of a k-anonymity lookup.
type BreachCheckResult struct {
	Count        int             `json:"breach_count"`
	RiskLevel    BreachRiskLevel `json:"risk_level"`
	Status       BreachStatus    `json:"status"`
	Cached       bool            `json:"cached"`
	ResponseTime time.Duration   `json:"-"`
}

// Degraded reports whether the lookup fell back.
func (r BreachCheckResult) Degraded() bool {
	return r.Status == BreachStatusDegraded
}

// IsBreached reports whether the password appeared in at least one breach.
func (r BreachCheckResult) IsBreached() bool {
	return r.Count > 0
}

// PasswordBreachRecord persists a breach check. PasswordHash is a keyed fingerprint, never the raw secret.
type PasswordBreachRecord struct {
	ID                string
	UserID            *string
	PasswordHash      string
	BreachCount       int
	RiskLevel         BreachRiskLevel
	Status            BreachStatus
	APIResponseTimeMs int64
	CheckedAt         time.Time
}
