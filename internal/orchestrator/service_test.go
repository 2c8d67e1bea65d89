package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"claimgate/internal/audit"
	"claimgate/internal/audit/store/memory"
	"claimgate/internal/decision"
	"claimgate/internal/pipeline"
	"claimgate/internal/report"
	"claimgate/internal/risk"
	"claimgate/internal/rules"
	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/circuit"
	"claimgate/pkg/platform/sentinel"
)

const serviceRuleset = `{
	"version": "2025-06-01",
	"rules": [
		{
			"id": "no-negative-amount",
			"category": "critical",
			"severity": "critical",
			"expression": "claim.billed_amount >= 0",
			"fail_message": "billed amount must not be negative"
		},
		{
			"id": "amount-within-tariff",
			"category": "tariff",
			"severity": "medium",
			"expression": "claim.billed_amount <= 50000"
		}
	]
}`

type fakeHistory struct {
	err   error
	calls int
}

func (f *fakeHistory) GetMemberHistory(_ context.Context, hash domain.MemberHash) (*domain.MemberHistory, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.MemberHistory{MemberHash: hash, ClaimCount: 3}, nil
}

func (f *fakeHistory) GetProviderHistory(_ context.Context, id domain.ProviderID) (*domain.ProviderHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ProviderHistory{ProviderID: id, ClaimCount: 12}, nil
}

type fakeScorer struct {
	assessment *risk.Assessment
	err        error
	calls      int
}

func (f *fakeScorer) Score(context.Context, domain.ClaimContext) (*risk.Assessment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.assessment, nil
}

type fakePublisher struct {
	published []pipeline.SequenceRange
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, _ *decision.Report, r pipeline.SequenceRange) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, r)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	ledger    *audit.Ledger
	store     *memory.Store
	history   *fakeHistory
	scorer    *fakeScorer
	reports   *report.InMemory
	publisher *fakePublisher
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()

	var err error
	s.ledger, err = audit.NewLedger(s.ctx, s.store)
	s.Require().NoError(err)

	ruleset, err := rules.Load([]byte(serviceRuleset), time.Second)
	s.Require().NoError(err)

	s.history = &fakeHistory{}
	s.scorer = &fakeScorer{assessment: &risk.Assessment{
		AssessmentID: "ra-1",
		RiskScore:    0.1,
		Confidence:   0.9,
		ModelVersion: "fraud-model/3",
	}}
	s.reports = report.NewInMemory()
	s.publisher = &fakePublisher{}

	s.service = NewService(Deps{
		Ledger:      s.ledger,
		History:     s.history,
		Scorer:      s.scorer,
		RuleEngine:  rules.NewEngine(),
		Ruleset:     ruleset,
		Decider:     decision.NewEngine(decision.DefaultConfig()),
		Reports:     s.reports,
		Publisher:   s.publisher,
		DataBreaker: circuit.New("data-service"),
		RiskBreaker: circuit.New("risk-scorer"),
	})
}

func (s *ServiceSuite) claim() domain.ClaimData {
	return domain.ClaimData{
		ClaimID:        "CLM-1",
		PolicyID:       "POL-1",
		ProviderID:     "PRV-1",
		MemberHash:     "a1b2c3",
		ProcedureCodes: []string{"99213"},
		BilledAmount:   420,
		ServiceDate:    time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		SubmittedAt:    time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
		ClaimType:      domain.ClaimTypeProfessional,
	}
}

func (s *ServiceSuite) eventTypes(claimID domain.ClaimID) []audit.EventType {
	events, err := s.ledger.ByClaim(s.ctx, claimID)
	s.Require().NoError(err)
	var types []audit.EventType
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func (s *ServiceSuite) TestHappyPath() {
	rep, err := s.service.Process(s.ctx, s.claim())
	s.Require().NoError(err)

	s.Equal(decision.RecommendationManualReview, rep.Recommendation)
	s.Equal(decision.QueueStandardReview, rep.Queue)
	s.False(rep.RiskDegraded)

	s.Equal([]audit.EventType{
		audit.EventClaimReceived,
		audit.EventHistoryFetched,
		audit.EventRulesEvaluated,
		audit.EventRiskScored,
		audit.EventReportCreated,
		audit.EventReportPublished,
	}, s.eventTypes("CLM-1"))
	s.NoError(s.ledger.VerifyChain(s.ctx, 1, 6))

	saved, err := s.reports.LatestByClaim(s.ctx, "CLM-1")
	s.Require().NoError(err)
	s.Equal(rep.ReportID, saved.ReportID)

	s.Require().Len(s.publisher.published, 1)
	s.Equal(uint64(1), s.publisher.published[0].From)
	s.Equal(uint64(5), s.publisher.published[0].To)
}

func (s *ServiceSuite) TestHistoryFailureDegradesButCompletes() {
	s.history.err = fmt.Errorf("timeout: %w", sentinel.ErrUnavailable)

	rep, err := s.service.Process(s.ctx, s.claim())
	s.Require().NoError(err)
	s.NotNil(rep)

	s.Contains(s.eventTypes("CLM-1"), audit.EventHistoryDegraded)
}

func (s *ServiceSuite) TestFirstTimeMemberDoesNotTripBreaker() {
	s.history.err = fmt.Errorf("member history: %w", sentinel.ErrNotFound)

	breaker := circuit.New("data-service", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	ruleset, err := rules.Load([]byte(serviceRuleset), time.Second)
	s.Require().NoError(err)
	service := NewService(Deps{
		Ledger:      s.ledger,
		History:     s.history,
		Scorer:      s.scorer,
		RuleEngine:  rules.NewEngine(),
		Ruleset:     ruleset,
		Decider:     decision.NewEngine(decision.DefaultConfig()),
		Reports:     s.reports,
		Publisher:   s.publisher,
		DataBreaker: breaker,
		RiskBreaker: circuit.New("risk-scorer"),
	})

	rep, err := service.Process(s.ctx, s.claim())
	s.Require().NoError(err)
	s.NotNil(rep)

	s.False(breaker.IsOpen(), "an unknown member must not count against the breaker")
	s.Contains(s.eventTypes("CLM-1"), audit.EventHistoryFetched)
	s.NotContains(s.eventTypes("CLM-1"), audit.EventHistoryDegraded)
	s.Equal(1, s.scorer.calls)
}

func (s *ServiceSuite) TestRiskFailureNeverApproves() {
	s.scorer.err = fmt.Errorf("scorer down: %w", sentinel.ErrUnavailable)

	rep, err := s.service.Process(s.ctx, s.claim())
	s.Require().NoError(err)

	s.True(rep.RiskDegraded)
	s.NotEqual(decision.RecommendationApprove, rep.Recommendation)
	s.Equal(decision.QueueSeniorReview, rep.Queue)
	s.Contains(s.eventTypes("CLM-1"), audit.EventRiskDegraded)
}

func (s *ServiceSuite) TestCriticalFailureDeclines() {
	claim := s.claim()
	claim.BilledAmount = -5

	rep, err := s.service.Process(s.ctx, claim)
	s.Require().NoError(err)

	s.Equal(decision.RecommendationDecline, rep.Recommendation)
	s.Equal(decision.QueueFraudOrCompliance, rep.Queue)
}

func (s *ServiceSuite) TestOpenBreakerSkipsScorer() {
	breaker := circuit.New("risk-scorer", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	breaker.RecordFailure()
	s.Require().True(breaker.IsOpen())

	ruleset, err := rules.Load([]byte(serviceRuleset), time.Second)
	s.Require().NoError(err)
	service := NewService(Deps{
		Ledger:      s.ledger,
		History:     s.history,
		Scorer:      s.scorer,
		RuleEngine:  rules.NewEngine(),
		Ruleset:     ruleset,
		Decider:     decision.NewEngine(decision.DefaultConfig()),
		Reports:     s.reports,
		Publisher:   s.publisher,
		DataBreaker: circuit.New("data-service"),
		RiskBreaker: breaker,
	})

	rep, err := service.Process(s.ctx, s.claim())
	s.Require().NoError(err)

	s.Zero(s.scorer.calls, "open breaker must not call the scorer")
	s.True(rep.RiskDegraded)
}

func (s *ServiceSuite) TestAuditFailureHaltsClaim() {
	failing := &failingLedgerStore{Store: s.store, failAfter: 2}
	ledger, err := audit.NewLedger(s.ctx, failing)
	s.Require().NoError(err)

	ruleset, err := rules.Load([]byte(serviceRuleset), time.Second)
	s.Require().NoError(err)
	service := NewService(Deps{
		Ledger:      ledger,
		History:     s.history,
		Scorer:      s.scorer,
		RuleEngine:  rules.NewEngine(),
		Ruleset:     ruleset,
		Decider:     decision.NewEngine(decision.DefaultConfig()),
		Reports:     s.reports,
		Publisher:   s.publisher,
		DataBreaker: circuit.New("data-service"),
		RiskBreaker: circuit.New("risk-scorer"),
	})

	_, err = service.Process(s.ctx, s.claim())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuditFailure))
	s.Empty(s.publisher.published, "halted claim must not publish")
}

func (s *ServiceSuite) TestPublishFailureStillCompletesClaim() {
	s.publisher.err = errors.New("broker down")

	rep, err := s.service.Process(s.ctx, s.claim())
	s.Require().NoError(err)

	saved, err := s.reports.LatestByClaim(s.ctx, "CLM-1")
	s.Require().NoError(err)
	s.Equal(rep.ReportID, saved.ReportID)
	s.NotContains(s.eventTypes("CLM-1"), audit.EventReportPublished)
}

func (s *ServiceSuite) TestReject() {
	s.Require().NoError(s.service.Reject(s.ctx, "CLM-bad", "unknown claim type"))
	s.Equal([]audit.EventType{audit.EventClaimRejected}, s.eventTypes("CLM-bad"))
}

// failingLedgerStore lets the first failAfter appends through, then fails.
type failingLedgerStore struct {
	audit.Store
	appends   int
	failAfter int
}

func (f *failingLedgerStore) Append(ctx context.Context, event audit.Event) error {
	f.appends++
	if f.appends > f.failAfter {
		return errors.New("disk full")
	}
	return f.Store.Append(ctx, event)
}
