package domain

// PasswordStrength labels a strength score.
type PasswordStrength string

const (
	PasswordVeryWeak PasswordStrength = "very_weak"
	PasswordWeak     PasswordStrength = "weak"
	PasswordFair     PasswordStrength = "fair"
	PasswordGood     PasswordStrength = "good"
	PasswordStrong   PasswordStrength = "strong"
)

// PasswordStrengthFor labels a 0..100 score.
func PasswordStrengthFor(score int) PasswordStrength {
	switch {
	case score >= 80:
		return PasswordStrong
	case score >= 60:
		return PasswordGood
	case score >= 40:
		return PasswordFair
	case score >= 20:
		return PasswordWeak
	default:
		return PasswordVeryWeak
	}
}

// PasswordRequirement is one rule of the requirement policy.
type PasswordRequirement struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Passed  bool   `json:"passed"`
}

// PasswordEstimate is the informational zxcvbn estimate.
type PasswordEstimate struct {
	Score     int     `json:"score"`
	Entropy   float64 `json:"entropy"`
	CrackTime string  `json:"crack_time"`
}

// PasswordAnalysis is the output of the strength analyzer.
type PasswordAnalysis struct {
	Score           int                   `json:"score"`
	Strength        PasswordStrength      `json:"strength"`
	Requirements    []PasswordRequirement `json:"requirements"`
	MeetsPolicy     bool                  `json:"meets_policy"`
	Penalties       []string              `json:"penalties,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	Estimate        PasswordEstimate      `json:"estimate"`
}

// PasswordCheckResult combines the analyzer output with a breach lookup.
type PasswordCheckResult struct {
	Analysis PasswordAnalysis  `json:"analysis"`
	Breach   BreachCheckResult `json:"breach"`
}
