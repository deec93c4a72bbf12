package domain

import "strings"

// DegradationPolicyMode enumerates supported behaviours when an external dependency is unreachable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient returns a degraded result and lets the caller proceed.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict surfaces a DegradedServiceError instead of a degraded result.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures why a fallback is being evaluated.
type DegradationReason string

const (
	DegradationReasonTimeout     DegradationReason = "timeout"
	DegradationReasonThrottled   DegradationReason = "throttled"
	DegradationReasonUpstream    DegradationReason = "upstream_error"
	DegradationReasonTransport   DegradationReason = "transport_error"
	DegradationReasonCancelled   DegradationReason = "cancelled"
	DegradationReasonCacheFailed DegradationReason = "cache_unavailable"
)

// DegradationPolicy centralises how the service responds when a dependency cannot be reached.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback determines if the policy permits continuing for the supplied reason.
// A cache outage never blocks the caller since the upstream is still consulted.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	if reason == DegradationReasonCacheFailed {
		return true
	}
	return !p.IsStrict()
}
