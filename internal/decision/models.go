// Package decision synthesizes rule outcomes and the external risk signal
// into one advisory recommendation with routing and SLA metadata. The
// output never blocks the upstream backend; it routes human attention.
package decision

import (
	"time"

	"claimgate/internal/rules"
	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
)

// Recommendation is the advisory verdict. DECLINE and APPROVE are
// candidates only; a human decision downstream remains authoritative.
type Recommendation string

const (
	RecommendationDecline      Recommendation = "DECLINE"
	RecommendationManualReview Recommendation = "MANUAL_REVIEW"
	RecommendationApprove      Recommendation = "APPROVE"
)

// severityRank orders recommendations for the monotonicity invariant:
// higher never softens to lower as risk grows.
var severityRank = map[Recommendation]int{
	RecommendationApprove:      0,
	RecommendationManualReview: 1,
	RecommendationDecline:      2,
}

// SeverityRank exposes the ordering for tests and metrics.
func (r Recommendation) SeverityRank() int { return severityRank[r] }

// ParseRecommendation validates external input against the known verdicts.
// Errors: CodeInvalidInput.
func ParseRecommendation(s string) (Recommendation, error) {
	r := Recommendation(s)
	if _, ok := severityRank[r]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown recommendation")
	}
	return r, nil
}

// Queue is the named review bucket a claim is routed to.
type Queue string

const (
	QueueFraudOrCompliance  Queue = "FRAUD_OR_COMPLIANCE"
	QueueFraudInvestigation Queue = "FRAUD_INVESTIGATION"
	QueueSeniorReview       Queue = "SENIOR_REVIEW"
	QueueStandardReview     Queue = "STANDARD_REVIEW"
	QueueAutoApproval       Queue = "AUTO_APPROVAL"
)

// routing fixes priority and SLA per queue. Priority 1 is most urgent.
type routing struct {
	priority int
	slaHours int
}

var queueRouting = map[Queue]routing{
	QueueFraudOrCompliance:  {priority: 1, slaHours: 4},
	QueueFraudInvestigation: {priority: 2, slaHours: 8},
	QueueSeniorReview:       {priority: 3, slaHours: 24},
	QueueStandardReview:     {priority: 4, slaHours: 48},
	QueueAutoApproval:       {priority: 5, slaHours: 72},
}

// ParseQueue validates external input against the known review queues.
// Errors: CodeInvalidInput.
func ParseQueue(s string) (Queue, error) {
	q := Queue(s)
	if _, ok := queueRouting[q]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown queue")
	}
	return q, nil
}

// Priority returns the queue's priority; unknown queues get the least
// urgent slot.
func (q Queue) Priority() int {
	if r, ok := queueRouting[q]; ok {
		return r.priority
	}
	return 5
}

// SLAHours returns the queue's service-level window.
func (q Queue) SLAHours() int {
	if r, ok := queueRouting[q]; ok {
		return r.slaHours
	}
	return 72
}

// Report is the final synthesis output for one claim. Created once,
// immutable, persisted via the audit ledger and the report store, and
// published on the claim-analyzed topic.
type Report struct {
	ReportID domain.ReportID `json:"report_id"`
	ClaimID  domain.ClaimID  `json:"claim_id"`

	Recommendation Recommendation `json:"recommendation"`
	Queue          Queue          `json:"queue"`
	Priority       int            `json:"priority"`
	SLAHours       int            `json:"sla_hours"`

	Confidence        float64 `json:"confidence"`
	CombinedRiskScore float64 `json:"combined_risk_score"`

	Reasons          []string `json:"reasons"`
	SuggestedActions []string `json:"suggested_actions"`

	RuleSummary rules.Summary `json:"rule_summary"`

	// Back-references by identifier; the referenced records live in the
	// audit trail, not inside the report.
	RiskAssessmentID string `json:"risk_assessment_id,omitempty"`
	RiskModelVersion string `json:"risk_model_version,omitempty"`

	// RiskDegraded marks a report produced without a risk signal. Such
	// reports are never APPROVE.
	RiskDegraded bool `json:"risk_degraded"`

	EngineVersion string    `json:"engine_version"`
	CreatedAt     time.Time `json:"created_at"`
}
