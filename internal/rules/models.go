// Package rules loads immutable rulesets and evaluates claims against them
// through the sandboxed expression evaluator.
package rules

import (
	"time"

	"claimgate/internal/rules/expr"
	"claimgate/pkg/domain"
)

// Category classifies a rule and fixes its evaluation order: critical rules
// always run first.
type Category string

const (
	CategoryCritical    Category = "critical"
	CategoryCoverage    Category = "coverage"
	CategoryEligibility Category = "eligibility"
	CategoryTemporal    Category = "temporal"
	CategoryTariff      Category = "tariff"
	CategoryDuplicate   Category = "duplicate"
	CategoryCustom      Category = "custom"
)

// categoryRank orders evaluation. Lower runs first.
var categoryRank = map[Category]int{
	CategoryCritical:    0,
	CategoryCoverage:    1,
	CategoryEligibility: 2,
	CategoryTemporal:    3,
	CategoryTariff:      4,
	CategoryDuplicate:   5,
	CategoryCustom:      6,
}

func (c Category) IsValid() bool {
	_, ok := categoryRank[c]
	return ok
}

func (c Category) rank() int { return categoryRank[c] }

// Severity weighs a rule's contribution to the combined risk score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var validSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

func (s Severity) IsValid() bool { return validSeverities[s] }

// Weight maps severity to a risk contribution in [0,1].
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.4
	case SeverityLow:
		return 0.15
	default:
		return 0.4
	}
}

// Outcome is the result of one rule against one claim.
type Outcome string

const (
	OutcomePass  Outcome = "PASS"
	OutcomeFail  Outcome = "FAIL"
	OutcomeFlag  Outcome = "FLAG"
	OutcomeError Outcome = "ERROR"
)

// RuleDefinition is one loaded rule. Immutable after ruleset activation; the
// checksum and version keep historical audit entries interpretable after the
// ruleset changes.
type RuleDefinition struct {
	ID          domain.RuleID
	Name        string
	Category    Category
	Severity    Severity
	Expression  string
	FailMessage string
	Timeout     time.Duration
	Version     string
	Checksum    string

	program *expr.Program
}

// RuleResult is one rule's outcome for one claim. Never mutated after the
// engine produces it.
type RuleResult struct {
	RuleID      domain.RuleID `json:"rule_id"`
	RuleVersion string        `json:"rule_version"`
	Category    Category      `json:"category"`
	Severity    Severity      `json:"severity"`
	Outcome     Outcome       `json:"outcome"`
	Message     string        `json:"message,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Result aggregates every rule outcome for a claim.
type Result struct {
	Results         Results `json:"results"`
	PassCount       int     `json:"pass_count"`
	FailCount       int     `json:"fail_count"`
	FlagCount       int     `json:"flag_count"`
	ErrorCount      int     `json:"error_count"`
	Aggregate       Outcome `json:"aggregate"`
	CriticalFailure bool    `json:"critical_failure"`
	ShortCircuited  bool    `json:"short_circuited"`

	EngineVersion   string    `json:"engine_version"`
	RulesetVersion  string    `json:"ruleset_version"`
	RulesetChecksum string    `json:"ruleset_checksum"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// Results is an ordered list of rule results.
type Results []RuleResult

// aggregate computes the precedence: critical FAIL beats FAIL beats FLAG
// beats PASS. ERROR outcomes count as FLAG for aggregation.
func (rs Results) aggregate() (Outcome, bool) {
	criticalFail := false
	anyFail := false
	anyFlag := false
	for _, r := range rs {
		switch r.Outcome {
		case OutcomeFail:
			anyFail = true
			if r.Category == CategoryCritical {
				criticalFail = true
			}
		case OutcomeFlag, OutcomeError:
			anyFlag = true
		}
	}
	switch {
	case criticalFail:
		return OutcomeFail, true
	case anyFail:
		return OutcomeFail, false
	case anyFlag:
		return OutcomeFlag, false
	default:
		return OutcomePass, false
	}
}

// Summary is the compact rule digest published on claim-analyzed events.
type Summary struct {
	Aggregate       Outcome         `json:"aggregate"`
	PassCount       int             `json:"pass_count"`
	FailCount       int             `json:"fail_count"`
	FlagCount       int             `json:"flag_count"`
	FailedRules     []domain.RuleID `json:"failed_rules,omitempty"`
	FlaggedRules    []domain.RuleID `json:"flagged_rules,omitempty"`
	RulesetVersion  string          `json:"ruleset_version"`
	CriticalFailure bool            `json:"critical_failure"`
}

// Summarize produces the published digest for a result.
func (r *Result) Summarize() Summary {
	s := Summary{
		Aggregate:       r.Aggregate,
		PassCount:       r.PassCount,
		FailCount:       r.FailCount,
		FlagCount:       r.FlagCount + r.ErrorCount,
		RulesetVersion:  r.RulesetVersion,
		CriticalFailure: r.CriticalFailure,
	}
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeFail:
			s.FailedRules = append(s.FailedRules, res.RuleID)
		case OutcomeFlag, OutcomeError:
			s.FlaggedRules = append(s.FlaggedRules, res.RuleID)
		}
	}
	return s
}
