package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	ClaimsProcessed *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	ClaimDuration   prometheus.Histogram
	RuleDuration    prometheus.Histogram
	BreakerState    *prometheus.GaugeVec
	AuditAppends    prometheus.Counter
	AuditFailures   prometheus.Counter
	PublishFailures prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ClaimsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claimgate_claims_processed_total",
			Help: "Claims processed, labelled by recommendation and queue",
		}, []string{"recommendation", "queue"}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claimgate_events_rejected_total",
			Help: "Inbound events skipped before processing, by reason",
		}, []string{"reason"}),
		ClaimDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "claimgate_claim_processing_seconds",
			Help:    "End-to-end claim processing duration",
			Buckets: prometheus.DefBuckets,
		}),
		RuleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "claimgate_rule_evaluation_seconds",
			Help:    "Full ruleset evaluation duration per claim",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "claimgate_circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)",
		}, []string{"dependency"}),
		AuditAppends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "claimgate_audit_appends_total",
			Help: "Audit events appended to the chain",
		}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "claimgate_audit_failures_total",
			Help: "Audit append failures (claim processing halts)",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "claimgate_publish_failures_total",
			Help: "claim-analyzed publishes that exhausted retries",
		}),
	}
}

// ObserveRejection counts one skipped inbound event.
func (m *Metrics) ObserveRejection(reason string) {
	m.EventsRejected.WithLabelValues(reason).Inc()
}

// ObserveClaim counts one finished claim.
func (m *Metrics) ObserveClaim(recommendation, queue string, seconds float64) {
	m.ClaimsProcessed.WithLabelValues(recommendation, queue).Inc()
	m.ClaimDuration.Observe(seconds)
}
