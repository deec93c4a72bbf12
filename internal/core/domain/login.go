package domain

import "time"

// AnomalyType names a heuristic login signal.
type AnomalyType string

const (
	AnomalyUnusualTime    AnomalyType = "unusual_time"
	AnomalyUnusualCountry AnomalyType = "unusual_country"
	AnomalyUnusualDevice  AnomalyType = "unusual_device"
	AnomalyRapidAttempts  AnomalyType = "rapid_attempts"
	AnomalyNewIP          AnomalyType = "new_ip"
)

// Severity ranks anomalies.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the anomaly score contribution for the severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 30
	case SeverityMedium:
		return 20
	case SeverityLow:
		return 10
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Weight() >= other.Weight()
}

// Anomaly is a single detected signal.
type Anomaly struct {
	Type     AnomalyType    `json:"type"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// LoginEvent is the input to the risk scorer.
type LoginEvent struct {
	UserID        string
	IPAddress     string
	UserAgent     string
	Device        string
	Browser       string
	OS            string
	Country       string
	City          string
	Success       bool
	FailureReason string
	AttemptedAt   time.Time
}

// LoginHistory is a persisted login attempt annotated with its risk assessment.
type LoginHistory struct {
	ID              string
	UserID          string
	IPAddress       string
	UserAgent       string
	Device          string
	Browser         string
	OS              string
	Country         string
	City            string
	Success         bool
	FailureReason   *string
	RiskScore       int
	AnomalyScore    int
	ConfidenceScore int
	IsUnusual       bool
	IsHighRiskIP    bool
	Anomalies       []Anomaly
	AttemptedAt     time.Time
}

// LoginRiskAssessment is the advisory output of the scorer.
type LoginRiskAssessment struct {
	RiskScore       int       `json:"risk_score"`
	AnomalyScore    int       `json:"anomaly_score"`
	ConfidenceScore int       `json:"confidence_score"`
	Anomalies       []Anomaly `json:"anomalies"`
	IsUnusual       bool      `json:"is_unusual"`
	IsHighRiskIP    bool      `json:"is_high_risk_ip"`
	HighestSeverity Severity  `json:"highest_severity,omitempty"`
}

// LoginAnomalyDetectedEvent is published when an assessment carries a high severity anomaly.
type LoginAnomalyDetectedEvent struct {
	EventID    string
	UserID     string
	IPAddress  string
	RiskScore  int
	Anomalies  []Anomaly
	DetectedAt time.Time
}
