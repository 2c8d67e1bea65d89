// Package orchestrator drives a claim through the vetting stages: context
// loading, rule evaluation, risk scoring, synthesis, persistence, and
// publication. Every stage transition lands in the audit chain before the
// claim moves on; an audit append failure halts the claim.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"claimgate/internal/audit"
	"claimgate/internal/decision"
	"claimgate/internal/pipeline"
	"claimgate/internal/platform/metrics"
	"claimgate/internal/risk"
	"claimgate/internal/rules"
	"claimgate/pkg/domain"
	"claimgate/pkg/platform/circuit"
	"claimgate/pkg/platform/sentinel"
)

// State names the position of a claim in the vetting flow. Degraded states
// are waypoints, not dead ends: processing continues with reduced input.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateContextLoaded State = "CONTEXT_LOADED"
	StateDegradedData  State = "DEGRADED_DATA"
	StateRulesDone     State = "RULES_EVALUATED"
	StateRiskScored    State = "RISK_SCORED"
	StateDegradedRisk  State = "DEGRADED_RISK"
	StatePersisted     State = "PERSISTED"
	StatePublished     State = "PUBLISHED"
)

const systemActor = "system"

// Service orchestrates claim vetting.
type Service struct {
	ledger    Ledger
	history   HistoryService
	scorer    RiskScorer
	engine    *rules.Engine
	ruleset   *rules.Ruleset
	decider   *decision.Engine
	reports   ReportStore
	publisher Publisher

	dataBreaker *circuit.Breaker
	riskBreaker *circuit.Breaker

	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeout bounds one claim's processing end to end.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// Deps carries the required collaborators.
type Deps struct {
	Ledger      Ledger
	History     HistoryService
	Scorer      RiskScorer
	RuleEngine  *rules.Engine
	Ruleset     *rules.Ruleset
	Decider     *decision.Engine
	Reports     ReportStore
	Publisher   Publisher
	DataBreaker *circuit.Breaker
	RiskBreaker *circuit.Breaker
}

func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		ledger:      deps.Ledger,
		history:     deps.History,
		scorer:      deps.Scorer,
		engine:      deps.RuleEngine,
		ruleset:     deps.Ruleset,
		decider:     deps.Decider,
		reports:     deps.Reports,
		publisher:   deps.Publisher,
		dataBreaker: deps.DataBreaker,
		riskBreaker: deps.RiskBreaker,
		timeout:     30 * time.Second,
		logger:      slog.Default(),
		tracer:      otel.Tracer("claimgate/orchestrator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process vets one claim. Returns the report on success; an error means the
// claim did not reach durable completion and the event must be redelivered.
func (s *Service) Process(ctx context.Context, claim domain.ClaimData) (*decision.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "claim.process",
		trace.WithAttributes(attribute.String("claim.id", claim.ClaimID.String())))
	defer span.End()

	started := time.Now()
	logger := s.logger.With("claim_id", claim.ClaimID)

	first, err := s.ledger.Append(ctx, audit.EventClaimReceived, claim.ClaimID, systemActor, claim)
	if err != nil {
		return nil, err
	}
	s.countAudit()
	s.step(ctx, logger, StateReceived)

	cc, err := s.loadContext(ctx, logger, claim)
	if err != nil {
		return nil, err
	}

	ruleStart := time.Now()
	ruleResult, err := s.engine.EvaluateClaim(ctx, cc, s.ruleset)
	if err != nil {
		// Only context cancellation reaches here; per-rule trouble
		// degrades to FLAG inside the engine.
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RuleDuration.Observe(time.Since(ruleStart).Seconds())
	}
	if _, err := s.ledger.Append(ctx, audit.EventRulesEvaluated, claim.ClaimID, systemActor, ruleResult.Summarize()); err != nil {
		return nil, err
	}
	s.countAudit()
	s.step(ctx, logger, StateRulesDone)

	assessment, err := s.scoreRisk(ctx, logger, cc)
	if err != nil {
		return nil, err
	}

	report := s.decider.Synthesize(claim, ruleResult, assessment)
	span.SetAttributes(
		attribute.String("claim.recommendation", string(report.Recommendation)),
		attribute.String("claim.queue", string(report.Queue)),
	)

	if err := s.reports.Save(ctx, report); err != nil {
		logger.ErrorContext(ctx, "report save failed", "error", err)
		return nil, err
	}
	last, err := s.ledger.Append(ctx, audit.EventReportCreated, claim.ClaimID, systemActor, report)
	if err != nil {
		return nil, err
	}
	s.countAudit()
	s.step(ctx, logger, StatePersisted)

	auditRange := pipeline.SequenceRange{From: first.Sequence, To: last.Sequence}
	if err := s.publisher.Publish(ctx, report, auditRange); err != nil {
		// The report is durable and queryable; publication is retried by
		// downstream consumers polling the query API, not by failing the
		// claim.
		logger.WarnContext(ctx, "claim-analyzed publish failed", "error", err)
	} else {
		if _, err := s.ledger.Append(ctx, audit.EventReportPublished, claim.ClaimID, systemActor, auditRange); err != nil {
			return nil, err
		}
		s.countAudit()
		s.step(ctx, logger, StatePublished)
	}

	if s.metrics != nil {
		s.metrics.ObserveClaim(string(report.Recommendation), string(report.Queue), time.Since(started).Seconds())
	}
	logger.InfoContext(ctx, "claim vetted",
		"recommendation", report.Recommendation,
		"queue", report.Queue,
		"risk_degraded", report.RiskDegraded,
		"elapsed", time.Since(started),
	)
	return report, nil
}

// Reject records a claim that failed structural validation and never
// entered vetting.
func (s *Service) Reject(ctx context.Context, claimID domain.ClaimID, reason string) error {
	_, err := s.ledger.Append(ctx, audit.EventClaimRejected, claimID, systemActor, map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	s.countAudit()
	return nil
}

// loadContext fetches the member and provider views behind the data-service
// breaker. Dependency failure degrades: rules run against empty histories
// and the degradation is visible to rule authors and the audit trail. Only
// an audit append failure returns an error.
func (s *Service) loadContext(ctx context.Context, logger *slog.Logger, claim domain.ClaimData) (domain.ClaimContext, error) {
	cc := domain.ClaimContext{Claim: claim}

	// An unknown member or provider is a valid answer, not a dependency
	// failure: the claim proceeds with an empty history and the breaker
	// stays untouched.
	err := s.dataBreaker.Do(ctx, func(ctx context.Context) error {
		member, err := s.history.GetMemberHistory(ctx, claim.MemberHash)
		if errors.Is(err, sentinel.ErrNotFound) {
			member = &domain.MemberHistory{MemberHash: claim.MemberHash}
		} else if err != nil {
			return err
		}
		provider, err := s.history.GetProviderHistory(ctx, claim.ProviderID)
		if errors.Is(err, sentinel.ErrNotFound) {
			provider = &domain.ProviderHistory{ProviderID: claim.ProviderID}
		} else if err != nil {
			return err
		}
		cc.Member = *member
		cc.Provider = *provider
		return nil
	})
	if err != nil {
		cc.Member = domain.MemberHistory{MemberHash: claim.MemberHash}
		cc.Provider = domain.ProviderHistory{ProviderID: claim.ProviderID}
		cc.Degraded = true
		logger.WarnContext(ctx, "history unavailable, proceeding degraded", "error", err)
		if _, aerr := s.ledger.Append(ctx, audit.EventHistoryDegraded, claim.ClaimID, systemActor, map[string]string{"error": err.Error()}); aerr != nil {
			return cc, aerr
		}
		s.countAudit()
		s.step(ctx, logger, StateDegradedData)
		return cc, nil
	}

	if _, aerr := s.ledger.Append(ctx, audit.EventHistoryFetched, claim.ClaimID, systemActor, nil); aerr != nil {
		return cc, aerr
	}
	s.countAudit()
	s.step(ctx, logger, StateContextLoaded)
	return cc, nil
}

// scoreRisk calls the scorer behind its breaker. A missing score is a
// degraded input to synthesis, never a reason to halt the claim. Only an
// audit append failure returns an error.
func (s *Service) scoreRisk(ctx context.Context, logger *slog.Logger, cc domain.ClaimContext) (*risk.Assessment, error) {
	var assessment *risk.Assessment
	err := s.riskBreaker.Do(ctx, func(ctx context.Context) error {
		a, err := s.scorer.Score(ctx, cc)
		if err != nil {
			return err
		}
		assessment = a
		return nil
	})
	if err != nil {
		logger.WarnContext(ctx, "risk scoring unavailable, proceeding degraded", "error", err)
		if _, aerr := s.ledger.Append(ctx, audit.EventRiskDegraded, cc.Claim.ClaimID, systemActor, map[string]string{"error": err.Error()}); aerr != nil {
			return nil, aerr
		}
		s.countAudit()
		s.step(ctx, logger, StateDegradedRisk)
		return nil, nil
	}

	if _, aerr := s.ledger.Append(ctx, audit.EventRiskScored, cc.Claim.ClaimID, systemActor, assessment); aerr != nil {
		return nil, aerr
	}
	s.countAudit()
	s.step(ctx, logger, StateRiskScored)
	return assessment, nil
}

func (s *Service) step(ctx context.Context, logger *slog.Logger, state State) {
	logger.DebugContext(ctx, "claim state", "state", state)
}

func (s *Service) countAudit() {
	if s.metrics != nil {
		s.metrics.AuditAppends.Inc()
	}
}
