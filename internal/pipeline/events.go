// Package pipeline carries the event contracts and the consume/publish
// machinery between the claims backend and the review systems.
package pipeline

import (
	"encoding/json"
	"time"

	"claimgate/internal/decision"
	"claimgate/internal/rules"
	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
)

// Topic and header names shared with the upstream backend.
const (
	TopicClaimSubmitted = "claims.submitted"
	TopicClaimAnalyzed  = "claims.analyzed"

	HeaderSignature = "x-signature"
	HeaderEventID   = "x-event-id"
)

const (
	EventTypeClaimSubmitted = "claim.submitted"
	EventTypeClaimAnalyzed  = "claim.analyzed"
)

// ClaimSubmittedEvent is the inbound contract. EventID is the idempotency
// key: the backend may redeliver, we must not re-vet.
type ClaimSubmittedEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Producer   string          `json:"producer"`
	OccurredAt time.Time       `json:"occurred_at"`
	Claim      SubmittedClaim  `json:"claim"`
	Raw        json.RawMessage `json:"-"`
}

// SubmittedClaim is the claim as the backend serializes it.
type SubmittedClaim struct {
	ClaimID        string   `json:"claim_id"`
	PolicyID       string   `json:"policy_id"`
	ProviderID     string   `json:"provider_id"`
	MemberHash     string   `json:"member_id_hash"`
	ProcedureCodes []string `json:"procedure_codes"`
	DiagnosisCodes []string `json:"diagnosis_codes"`
	BilledAmount   float64  `json:"billed_amount"`
	ServiceDate    string   `json:"service_date"`
	ClaimType      string   `json:"claim_type"`
	SubmittedAt    string   `json:"submitted_at"`
}

// DecodeClaimSubmitted parses and structurally validates an inbound event.
// Errors: CodeBadRequest for malformed JSON or a wrong event type.
func DecodeClaimSubmitted(value []byte) (*ClaimSubmittedEvent, error) {
	var event ClaimSubmittedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed claim-submitted event")
	}
	if event.EventType != EventTypeClaimSubmitted {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unexpected event type "+event.EventType)
	}
	if event.EventID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "event_id is required")
	}
	event.Raw = value
	return &event, nil
}

// ToClaimData converts the wire claim into the domain value object.
// Errors: CodeInvalidInput for unparseable dates or an unknown claim type.
func (e *ClaimSubmittedEvent) ToClaimData() (domain.ClaimData, error) {
	claimType, err := domain.ParseClaimType(e.Claim.ClaimType)
	if err != nil {
		return domain.ClaimData{}, err
	}
	serviceDate, err := time.Parse(time.RFC3339, e.Claim.ServiceDate)
	if err != nil {
		return domain.ClaimData{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse service_date")
	}
	submittedAt, err := time.Parse(time.RFC3339, e.Claim.SubmittedAt)
	if err != nil {
		return domain.ClaimData{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse submitted_at")
	}

	claim := domain.ClaimData{
		ClaimID:        domain.ClaimID(e.Claim.ClaimID),
		PolicyID:       domain.PolicyID(e.Claim.PolicyID),
		ProviderID:     domain.ProviderID(e.Claim.ProviderID),
		MemberHash:     domain.MemberHash(e.Claim.MemberHash),
		ProcedureCodes: e.Claim.ProcedureCodes,
		DiagnosisCodes: e.Claim.DiagnosisCodes,
		BilledAmount:   e.Claim.BilledAmount,
		ServiceDate:    serviceDate,
		ClaimType:      claimType,
		SubmittedAt:    submittedAt,
	}
	if err := claim.Validate(); err != nil {
		return domain.ClaimData{}, err
	}
	return claim, nil
}

// SequenceRange points consumers at the audit trail slice for one claim's
// processing run.
type SequenceRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// ClaimAnalyzedEvent is the outbound contract published after a report is
// durably stored and audited.
type ClaimAnalyzedEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Producer   string    `json:"producer"`
	OccurredAt time.Time `json:"occurred_at"`

	ClaimID           domain.ClaimID          `json:"claim_id"`
	ReportID          domain.ReportID         `json:"report_id"`
	Recommendation    decision.Recommendation `json:"recommendation"`
	Queue             decision.Queue          `json:"queue"`
	Priority          int                     `json:"priority"`
	SLAHours          int                     `json:"sla_hours"`
	Confidence        float64                 `json:"confidence"`
	CombinedRiskScore float64                 `json:"combined_risk_score"`
	RiskDegraded      bool                    `json:"risk_degraded"`
	RuleSummary       rules.Summary           `json:"rule_summary"`

	AuditSequenceRange SequenceRange `json:"audit_sequence_range"`
}

// NewClaimAnalyzedEvent builds the outbound event from a finished report.
func NewClaimAnalyzedEvent(eventID string, report *decision.Report, auditRange SequenceRange, now time.Time) ClaimAnalyzedEvent {
	return ClaimAnalyzedEvent{
		EventID:            eventID,
		EventType:          EventTypeClaimAnalyzed,
		Producer:           "claimgate",
		OccurredAt:         now.UTC(),
		ClaimID:            report.ClaimID,
		ReportID:           report.ReportID,
		Recommendation:     report.Recommendation,
		Queue:              report.Queue,
		Priority:           report.Priority,
		SLAHours:           report.SLAHours,
		Confidence:         report.Confidence,
		CombinedRiskScore:  report.CombinedRiskScore,
		RiskDegraded:       report.RiskDegraded,
		RuleSummary:        report.RuleSummary,
		AuditSequenceRange: auditRange,
	}
}
