// Package metrics provides Prometheus instrumentation for the decisioning
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChecksTotal counts completed fraud checks by outcome.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "checks_total",
			Help:      "Total fraud checks by final outcome.",
		},
		[]string{"outcome"},
	)

	// CheckDuration observes end-to-end fraud check latency.
	CheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "check_duration_seconds",
			Help:      "Fraud check duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RuleMatchesTotal counts rule matches by condition type.
	RuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "rule_matches_total",
			Help:      "Total rule matches by condition type.",
		},
		[]string{"condition_type"},
	)

	// AdapterFailuresTotal counts degraded external calls by adapter.
	AdapterFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "adapter_failures_total",
			Help:      "Total degraded verification or scoring calls by adapter.",
		},
		[]string{"adapter"},
	)

	// AlertsRaisedTotal counts alerts created by severity.
	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "alerts_raised_total",
			Help:      "Total alerts raised by severity.",
		},
		[]string{"severity"},
	)

	// RiskScore observes the final risk score distribution.
	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "risk_score",
			Help:      "Distribution of final risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

func init() {
	prometheus.MustRegister(
		ChecksTotal,
		CheckDuration,
		RuleMatchesTotal,
		AdapterFailuresTotal,
		AlertsRaisedTotal,
		RiskScore,
	)
}

// ObserveCheck records one completed check.
func ObserveCheck(outcome string, score float64, started time.Time) {
	ChecksTotal.WithLabelValues(outcome).Inc()
	RiskScore.Observe(score)
	CheckDuration.Observe(time.Since(started).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
