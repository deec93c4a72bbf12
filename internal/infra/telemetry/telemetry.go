package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics holds collectors for authorization, breach, risk and maintenance activity.
// All methods are safe on a nil receiver.
type DomainMetrics struct {
	authorizations *prometheus.CounterVec
	breachChecks   *prometheus.CounterVec
	breachLatency  prometheus.Histogram
	riskScores     prometheus.Histogram
	cleanups       *prometheus.CounterVec
}

// NewDomainMetrics registers domain collectors, reusing any already registered under the same name.
func NewDomainMetrics(reg prometheus.Registerer, namespace string) (*DomainMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "superauth"
	}

	authorizations, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rbac",
		Name:      "authorization_decisions_total",
		Help:      "Authorization checks partitioned by check kind and outcome.",
	}, []string{"check", "allowed"})
	if err != nil {
		return nil, err
	}

	breachChecks, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "breach",
		Name:      "checks_total",
		Help:      "Breach lookups partitioned by status and cache hit.",
	}, []string{"status", "cached"})
	if err != nil {
		return nil, err
	}

	breachLatency, err := registerHistogram(reg, prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "breach",
		Name:      "upstream_duration_seconds",
		Help:      "Latency of breach range requests.",
		Buckets:   prometheus.DefBuckets,
	})
	if err != nil {
		return nil, err
	}

	riskScores, err := registerHistogram(reg, prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "login",
		Name:      "risk_score",
		Help:      "Distribution of login risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
	if err != nil {
		return nil, err
	}

	cleanups, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "removed_total",
		Help:      "Rows removed by maintenance jobs.",
	}, []string{"job"})
	if err != nil {
		return nil, err
	}

	return &DomainMetrics{
		authorizations: authorizations,
		breachChecks:   breachChecks,
		breachLatency:  breachLatency,
		riskScores:     riskScores,
		cleanups:       cleanups,
	}, nil
}

// ObserveAuthorization counts one authorization decision.
func (m *DomainMetrics) ObserveAuthorization(check string, allowed bool) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(check, strconv.FormatBool(allowed)).Inc()
}

// ObserveBreachCheck counts a breach lookup; upstream latency is recorded only for cache misses.
func (m *DomainMetrics) ObserveBreachCheck(status string, cached bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.breachChecks.WithLabelValues(status, strconv.FormatBool(cached)).Inc()
	if !cached && elapsed > 0 {
		m.breachLatency.Observe(elapsed.Seconds())
	}
}

// ObserveRiskScore records a computed login risk score.
func (m *DomainMetrics) ObserveRiskScore(score int) {
	if m == nil {
		return
	}
	m.riskScores.Observe(float64(score))
}

// ObserveCleanup adds removed rows for a maintenance job.
func (m *DomainMetrics) ObserveCleanup(job string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.cleanups.WithLabelValues(job).Add(float64(removed))
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return collector, nil
}

func registerHistogram(reg prometheus.Registerer, opts prometheus.HistogramOpts) (prometheus.Histogram, error) {
	collector := prometheus.NewHistogram(opts)
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return collector, nil
}
