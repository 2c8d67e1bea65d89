package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"claimgate/internal/rules/expr"
	"claimgate/pkg/domain"
)

// EngineVersion is recorded on every Result so historical audit entries
// name the engine that produced them.
const EngineVersion = "rule-engine/1"

// Engine evaluates claims against an active ruleset. It is stateless;
// identical (claim, ruleset) pairs yield identical results modulo
// timestamps and per-rule elapsed time.
type Engine struct {
	logger *slog.Logger

	// stopOnCriticalFailure skips remaining rules once a critical rule
	// fails. Default false: all rules still run so the audit trail is
	// complete, but the aggregate is already determined either way.
	stopOnCriticalFailure bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStopOnCriticalFailure enables the early-exit variant of critical
// short-circuiting.
func WithStopOnCriticalFailure(stop bool) Option {
	return func(e *Engine) { e.stopOnCriticalFailure = stop }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateClaim runs every rule in the ruleset against the claim context.
// A single rule's evaluation error or timeout degrades to FLAG with the
// error recorded in the message; it never aborts the claim. The returned
// error is non-nil only when the claim's own context is cancelled.
func (e *Engine) EvaluateClaim(ctx context.Context, cc domain.ClaimContext, rs *Ruleset) (*Result, error) {
	evalCtx := BuildContext(cc)

	result := &Result{
		EngineVersion:   EngineVersion,
		RulesetVersion:  rs.Version(),
		RulesetChecksum: rs.Checksum(),
		EvaluatedAt:     time.Now().UTC(),
	}

	criticalFailed := false
	for _, def := range rs.ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if criticalFailed && e.stopOnCriticalFailure && def.Category != CategoryCritical {
			result.ShortCircuited = true
			break
		}

		rr := e.evaluateRule(def, evalCtx)
		if rr.Outcome == OutcomeFail && def.Category == CategoryCritical {
			criticalFailed = true
		}

		switch rr.Outcome {
		case OutcomePass:
			result.PassCount++
		case OutcomeFail:
			result.FailCount++
		case OutcomeFlag:
			result.FlagCount++
		case OutcomeError:
			result.ErrorCount++
		}
		result.Results = append(result.Results, rr)
	}

	result.Aggregate, result.CriticalFailure = result.Results.aggregate()
	return result, nil
}

// evaluateRule runs one rule. The expression is the condition the claim must
// satisfy: false means FAIL.
func (e *Engine) evaluateRule(def RuleDefinition, evalCtx expr.Context) RuleResult {
	start := time.Now()
	ok, err := def.program.Eval(evalCtx, def.Timeout)
	elapsed := time.Since(start)

	rr := RuleResult{
		RuleID:      def.ID,
		RuleVersion: def.Version,
		Category:    def.Category,
		Severity:    def.Severity,
		Elapsed:     elapsed,
	}

	switch {
	case errors.Is(err, expr.ErrTimeout):
		rr.Outcome = OutcomeFlag
		rr.Message = "evaluation timed out after " + def.Timeout.String()
		e.logger.Warn("rule evaluation timed out", "rule_id", def.ID, "timeout", def.Timeout)
	case err != nil:
		rr.Outcome = OutcomeFlag
		rr.Message = "evaluation error: " + err.Error()
		e.logger.Warn("rule evaluation failed", "rule_id", def.ID, "error", err)
	case ok:
		rr.Outcome = OutcomePass
	default:
		rr.Outcome = OutcomeFail
		rr.Message = def.FailMessage
		if rr.Message == "" {
			rr.Message = "condition not satisfied: " + def.Expression
		}
	}
	return rr
}

// BuildContext flattens the claim context into the evaluator's field
// namespace. Field names here are the rule authors' public API; renaming one
// breaks deployed rulesets.
func BuildContext(cc domain.ClaimContext) expr.Context {
	return expr.Context{
		"claim": map[string]any{
			"claim_id":        cc.Claim.ClaimID.String(),
			"policy_id":       cc.Claim.PolicyID.String(),
			"provider_id":     cc.Claim.ProviderID.String(),
			"member_hash":     cc.Claim.MemberHash.String(),
			"procedure_codes": cc.Claim.ProcedureCodes,
			"diagnosis_codes": cc.Claim.DiagnosisCodes,
			"billed_amount":   cc.Claim.BilledAmount,
			"service_date":    cc.Claim.ServiceDate,
			"submitted_at":    cc.Claim.SubmittedAt,
			"claim_type":      string(cc.Claim.ClaimType),
		},
		"member": map[string]any{
			"claim_count":      cc.Member.ClaimCount,
			"total_billed":     cc.Member.TotalBilled,
			"denied_count":     cc.Member.DeniedCount,
			"last_claim_date":  cc.Member.LastClaimDate,
			"recent_claim_ids": claimIDStrings(cc.Member.RecentClaimIDs),
		},
		"provider": map[string]any{
			"claim_count":    cc.Provider.ClaimCount,
			"total_billed":   cc.Provider.TotalBilled,
			"flagged_count":  cc.Provider.FlaggedCount,
			"average_billed": cc.Provider.AverageBilled,
		},
		"history_degraded": cc.Degraded,
	}
}

func claimIDStrings(ids []domain.ClaimID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
