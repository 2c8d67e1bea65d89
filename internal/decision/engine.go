package decision

import (
	"fmt"
	"time"

	"claimgate/internal/risk"
	"claimgate/internal/rules"
	"claimgate/pkg/domain"
)

// EngineVersion is recorded on every report.
const EngineVersion = "decision-engine/1"

// Config holds the synthesis thresholds. All values are operator-tunable;
// see platform/config for the environment mapping.
type Config struct {
	// MinConfidence is the floor below which the risk score is not trusted
	// and the claim escalates to senior review.
	MinConfidence float64
	// HighRiskThreshold routes to fraud investigation.
	HighRiskThreshold float64
	// MediumRiskThreshold routes to senior review.
	MediumRiskThreshold float64
	// AmountCeiling routes high-value claims to senior review regardless
	// of score.
	AmountCeiling float64
	// AutoApproveEnabled gates the APPROVE recommendation. Off by default:
	// even a fully clean claim goes to standard review.
	AutoApproveEnabled bool
}

// DefaultConfig returns the conservative defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.5,
		HighRiskThreshold:   0.8,
		MediumRiskThreshold: 0.5,
		AmountCeiling:       10000,
		AutoApproveEnabled:  false,
	}
}

// Engine synthesizes reports. Stateless and pure: identical inputs yield
// identical reports modulo ReportID and CreatedAt.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Synthesize applies the decision hierarchy. Levels are checked strictly
// top-down and the first match wins, so lower levels can only run once
// every higher level has cleared; nothing a lower level does can soften a
// decision reached above it. A nil assessment is the degraded path: an
// absent risk signal is never treated as low risk.
func (e *Engine) Synthesize(claim domain.ClaimData, ruleResult *rules.Result, assessment *risk.Assessment) *Report {
	report := &Report{
		ReportID:          domain.NewReportID(),
		ClaimID:           claim.ClaimID,
		RuleSummary:       ruleResult.Summarize(),
		CombinedRiskScore: e.combinedRisk(ruleResult, assessment),
		RiskDegraded:      assessment == nil,
		EngineVersion:     EngineVersion,
		CreatedAt:         time.Now().UTC(),
	}
	if assessment != nil {
		report.RiskAssessmentID = assessment.AssessmentID
		report.RiskModelVersion = assessment.ModelVersion
	}

	switch {
	// 1. Critical rule failure: decline candidate, compliance queue.
	case ruleResult.CriticalFailure:
		e.route(report, RecommendationDecline, QueueFraudOrCompliance, 0.95,
			"critical rule failed: "+rulesWithOutcome(ruleResult, rules.OutcomeFail))
		report.SuggestedActions = []string{"verify_claim_data", "notify_compliance"}

	// 2. Non-critical rule failure.
	case ruleResult.Aggregate == rules.OutcomeFail:
		e.route(report, RecommendationManualReview, QueueSeniorReview, 0.85,
			"rule failures: "+rulesWithOutcome(ruleResult, rules.OutcomeFail))
		report.SuggestedActions = []string{"review_failed_rules"}

	// 3. Risk signal absent or not trustworthy.
	case assessment == nil:
		e.route(report, RecommendationManualReview, QueueSeniorReview, 0.30,
			"risk score unavailable")
		report.SuggestedActions = []string{"rescore_when_scorer_recovers"}
	case assessment.Confidence < e.cfg.MinConfidence:
		e.route(report, RecommendationManualReview, QueueSeniorReview, assessment.Confidence,
			fmt.Sprintf("risk confidence %.2f below minimum %.2f", assessment.Confidence, e.cfg.MinConfidence))
		report.SuggestedActions = []string{"rescore_when_scorer_recovers"}

	// 4. High model risk.
	case assessment.RiskScore >= e.cfg.HighRiskThreshold:
		report.Reasons = factorReasons(assessment)
		e.route(report, RecommendationManualReview, QueueFraudInvestigation, assessment.Confidence,
			fmt.Sprintf("risk score %.2f at or above high threshold %.2f", assessment.RiskScore, e.cfg.HighRiskThreshold))
		report.SuggestedActions = []string{"open_fraud_case", "review_risk_factors"}

	// 5. Elevated model risk or high-value claim.
	case assessment.RiskScore >= e.cfg.MediumRiskThreshold:
		report.Reasons = factorReasons(assessment)
		e.route(report, RecommendationManualReview, QueueSeniorReview, assessment.Confidence,
			fmt.Sprintf("risk score %.2f at or above medium threshold %.2f", assessment.RiskScore, e.cfg.MediumRiskThreshold))
		report.SuggestedActions = []string{"review_risk_factors"}
	case claim.BilledAmount > e.cfg.AmountCeiling:
		e.route(report, RecommendationManualReview, QueueSeniorReview, assessment.Confidence,
			fmt.Sprintf("billed amount %.2f above ceiling %.2f", claim.BilledAmount, e.cfg.AmountCeiling))
		report.SuggestedActions = []string{"verify_billed_amount"}

	// 6. Flagged rules.
	case ruleResult.Aggregate == rules.OutcomeFlag:
		e.route(report, RecommendationManualReview, QueueStandardReview, 0.70,
			"flagged rules: "+rulesWithOutcome(ruleResult, rules.OutcomeFlag))
		report.SuggestedActions = []string{"review_flagged_rules"}

	// 7. Clean claim; approval still gated by the feature flag.
	case e.cfg.AutoApproveEnabled:
		e.route(report, RecommendationApprove, QueueAutoApproval, assessment.Confidence,
			"all rules passed and risk score below thresholds")
	default:
		e.route(report, RecommendationManualReview, QueueStandardReview, assessment.Confidence,
			"all checks passed; auto-approval disabled")
	}

	return report
}

// route fills the routing block. Priority and SLA derive from the queue
// alone, never set independently.
func (e *Engine) route(report *Report, rec Recommendation, queue Queue, confidence float64, reason string) {
	report.Recommendation = rec
	report.Queue = queue
	report.Priority = queue.Priority()
	report.SLAHours = queue.SLAHours()
	report.Confidence = confidence
	report.Reasons = append([]string{reason}, report.Reasons...)
}

// combinedRisk blends the model score with rule severity. The rule
// contribution is the heaviest failed severity weight, half weight for
// flags, so the blend is monotonic in both the model score and rule
// outcomes.
func (e *Engine) combinedRisk(ruleResult *rules.Result, assessment *risk.Assessment) float64 {
	ruleRisk := 0.0
	for _, rr := range ruleResult.Results {
		w := rr.Severity.Weight()
		switch rr.Outcome {
		case rules.OutcomeFail:
		case rules.OutcomeFlag, rules.OutcomeError:
			w *= 0.5
		default:
			continue
		}
		if w > ruleRisk {
			ruleRisk = w
		}
	}
	if assessment == nil {
		return ruleRisk
	}
	combined := 0.6*assessment.RiskScore + 0.4*ruleRisk
	if combined > 1 {
		combined = 1
	}
	return combined
}

func rulesWithOutcome(result *rules.Result, outcome rules.Outcome) string {
	out := ""
	for _, rr := range result.Results {
		if rr.Outcome != outcome {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += string(rr.RuleID)
	}
	return out
}

func factorReasons(assessment *risk.Assessment) []string {
	var reasons []string
	for _, f := range assessment.Factors {
		reasons = append(reasons, "risk factor: "+f.Name)
	}
	return reasons
}
