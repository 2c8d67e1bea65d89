package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"claimgate/internal/risk"
	"claimgate/internal/rules"
	"claimgate/pkg/domain"
)

type EngineSuite struct {
	suite.Suite
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.engine = NewEngine(DefaultConfig())
}

func testClaim() domain.ClaimData {
	return domain.ClaimData{
		ClaimID:        "CLM-1001",
		PolicyID:       "POL-77",
		ProviderID:     "PRV-12",
		MemberHash:     "a1b2c3",
		ProcedureCodes: []string{"99213"},
		BilledAmount:   420.00,
		ServiceDate:    time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		SubmittedAt:    time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
		ClaimType:      domain.ClaimTypeProfessional,
	}
}

func allPassResult() *rules.Result {
	return &rules.Result{
		Results: []rules.RuleResult{
			{RuleID: "no-negative-amount", Category: rules.CategoryCritical, Severity: rules.SeverityCritical, Outcome: rules.OutcomePass},
			{RuleID: "amount-within-tariff", Category: rules.CategoryTariff, Severity: rules.SeverityMedium, Outcome: rules.OutcomePass},
		},
		Aggregate:      rules.OutcomePass,
		PassCount:      2,
		RulesetVersion: "2025-06-01",
	}
}

func criticalFailResult() *rules.Result {
	return &rules.Result{
		Results: []rules.RuleResult{
			{RuleID: "no-negative-amount", Category: rules.CategoryCritical, Severity: rules.SeverityCritical, Outcome: rules.OutcomeFail, Message: "billed amount must not be negative"},
			{RuleID: "amount-within-tariff", Category: rules.CategoryTariff, Severity: rules.SeverityMedium, Outcome: rules.OutcomePass},
		},
		Aggregate:       rules.OutcomeFail,
		PassCount:       1,
		FailCount:       1,
		CriticalFailure: true,
		RulesetVersion:  "2025-06-01",
	}
}

func flaggedResult() *rules.Result {
	return &rules.Result{
		Results: []rules.RuleResult{
			{RuleID: "no-negative-amount", Category: rules.CategoryCritical, Severity: rules.SeverityCritical, Outcome: rules.OutcomePass},
			{RuleID: "member-velocity", Category: rules.CategoryCustom, Severity: rules.SeverityLow, Outcome: rules.OutcomeFlag, Message: "evaluation error"},
		},
		Aggregate:      rules.OutcomeFlag,
		PassCount:      1,
		FlagCount:      1,
		RulesetVersion: "2025-06-01",
	}
}

func goodAssessment(score, confidence float64) *risk.Assessment {
	return &risk.Assessment{
		AssessmentID: "ra-001",
		RiskScore:    score,
		Confidence:   confidence,
		ModelVersion: "fraud-model/3",
		ScoredAt:     time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC),
	}
}

func (s *EngineSuite) TestCriticalFailureDeclines() {
	claim := testClaim()
	claim.BilledAmount = -5

	report := s.engine.Synthesize(claim, criticalFailResult(), goodAssessment(0.1, 0.9))

	s.Equal(RecommendationDecline, report.Recommendation)
	s.Equal(QueueFraudOrCompliance, report.Queue)
	s.Equal(1, report.Priority)
	s.Equal(4, report.SLAHours)
	s.NotEmpty(report.Reasons)
	s.Contains(report.Reasons[0], "no-negative-amount")
	s.True(report.RuleSummary.CriticalFailure)
}

func (s *EngineSuite) TestCriticalFailureBeatsLowRisk() {
	// Even a pristine risk score cannot soften a critical rule failure.
	report := s.engine.Synthesize(testClaim(), criticalFailResult(), goodAssessment(0.0, 1.0))
	s.Equal(RecommendationDecline, report.Recommendation)
}

func (s *EngineSuite) TestCleanClaimWithoutAutoApprove() {
	report := s.engine.Synthesize(testClaim(), allPassResult(), goodAssessment(0.05, 0.9))

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueStandardReview, report.Queue)
	s.Equal(4, report.Priority)
	s.Equal(48, report.SLAHours)
	s.False(report.RiskDegraded)
}

func (s *EngineSuite) TestCleanClaimWithAutoApprove() {
	cfg := DefaultConfig()
	cfg.AutoApproveEnabled = true
	engine := NewEngine(cfg)

	report := engine.Synthesize(testClaim(), allPassResult(), goodAssessment(0.05, 0.9))

	s.Equal(RecommendationApprove, report.Recommendation)
	s.Equal(QueueAutoApproval, report.Queue)
	s.Equal(5, report.Priority)
	s.Equal(72, report.SLAHours)
}

func (s *EngineSuite) TestNilAssessmentNeverApproves() {
	cfg := DefaultConfig()
	cfg.AutoApproveEnabled = true
	engine := NewEngine(cfg)

	report := engine.Synthesize(testClaim(), allPassResult(), nil)

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueSeniorReview, report.Queue)
	s.True(report.RiskDegraded)
	s.Empty(report.RiskAssessmentID)
}

func (s *EngineSuite) TestLowConfidenceEscalates() {
	report := s.engine.Synthesize(testClaim(), allPassResult(), goodAssessment(0.05, 0.3))

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueSeniorReview, report.Queue)
	s.InDelta(0.3, report.Confidence, 1e-9)
}

func (s *EngineSuite) TestHighRiskRoutesToFraudInvestigation() {
	a := goodAssessment(0.85, 0.9)
	a.Factors = []risk.Factor{{Name: "provider_velocity", Weight: 0.6}}

	report := s.engine.Synthesize(testClaim(), allPassResult(), a)

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueFraudInvestigation, report.Queue)
	s.Equal(2, report.Priority)
	s.Equal(8, report.SLAHours)
	s.Contains(report.Reasons, "risk factor: provider_velocity")
}

func (s *EngineSuite) TestMediumRiskRoutesToSeniorReview() {
	report := s.engine.Synthesize(testClaim(), allPassResult(), goodAssessment(0.6, 0.9))

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueSeniorReview, report.Queue)
}

func (s *EngineSuite) TestHighValueClaimEscalates() {
	claim := testClaim()
	claim.BilledAmount = 25000

	report := s.engine.Synthesize(claim, allPassResult(), goodAssessment(0.1, 0.9))

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueSeniorReview, report.Queue)
	s.Contains(report.Reasons[0], "above ceiling")
}

func (s *EngineSuite) TestFlaggedRulesRouteToStandardReview() {
	report := s.engine.Synthesize(testClaim(), flaggedResult(), goodAssessment(0.1, 0.9))

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueStandardReview, report.Queue)
	s.Contains(report.Reasons[0], "member-velocity")
}

func (s *EngineSuite) TestNonCriticalFailure() {
	result := criticalFailResult()
	result.CriticalFailure = false
	result.Results[0].Severity = rules.SeverityMedium

	report := s.engine.Synthesize(testClaim(), result, goodAssessment(0.1, 0.9))

	s.Equal(RecommendationManualReview, report.Recommendation)
	s.Equal(QueueSeniorReview, report.Queue)
}

func (s *EngineSuite) TestMonotonicInRiskScore() {
	// Recommendation severity never decreases as the model score rises.
	prev := -1
	for _, score := range []float64{0.0, 0.2, 0.49, 0.5, 0.7, 0.8, 0.95, 1.0} {
		report := s.engine.Synthesize(testClaim(), allPassResult(), goodAssessment(score, 0.9))
		rank := report.Recommendation.SeverityRank()
		s.GreaterOrEqual(rank, prev, "score %.2f softened the recommendation", score)
		prev = rank
	}
}

func (s *EngineSuite) TestCombinedRiskBlendsRuleSeverity() {
	clean := s.engine.Synthesize(testClaim(), allPassResult(), goodAssessment(0.5, 0.9))
	failed := s.engine.Synthesize(testClaim(), criticalFailResult(), goodAssessment(0.5, 0.9))

	s.Greater(failed.CombinedRiskScore, clean.CombinedRiskScore)
	s.LessOrEqual(failed.CombinedRiskScore, 1.0)
}

func (s *EngineSuite) TestCombinedRiskWithoutAssessment() {
	report := s.engine.Synthesize(testClaim(), criticalFailResult(), nil)
	s.InDelta(rules.SeverityCritical.Weight(), report.CombinedRiskScore, 1e-9)
}

func (s *EngineSuite) TestReportMetadata() {
	report := s.engine.Synthesize(testClaim(), allPassResult(), goodAssessment(0.05, 0.9))

	s.NotEmpty(report.ReportID)
	s.Equal(domain.ClaimID("CLM-1001"), report.ClaimID)
	s.Equal(EngineVersion, report.EngineVersion)
	s.Equal("ra-001", report.RiskAssessmentID)
	s.Equal("fraud-model/3", report.RiskModelVersion)
	s.False(report.CreatedAt.IsZero())
}
