package orchestrator

import (
	"context"

	"claimgate/internal/audit"
	"claimgate/internal/decision"
	"claimgate/internal/pipeline"
	"claimgate/internal/risk"
	"claimgate/pkg/domain"
)

// HistoryService reads the member and provider views from the data service.
type HistoryService interface {
	GetMemberHistory(ctx context.Context, hash domain.MemberHash) (*domain.MemberHistory, error)
	GetProviderHistory(ctx context.Context, providerID domain.ProviderID) (*domain.ProviderHistory, error)
}

// RiskScorer calls the external scoring engine.
type RiskScorer interface {
	Score(ctx context.Context, cc domain.ClaimContext) (*risk.Assessment, error)
}

// Ledger appends to the tamper-evident trail. Append failures are fatal to
// the claim in flight.
type Ledger interface {
	Append(ctx context.Context, eventType audit.EventType, claimID domain.ClaimID, actor string, payload any) (*audit.Event, error)
}

// ReportStore persists finished reports.
type ReportStore interface {
	Save(ctx context.Context, r *decision.Report) error
}

// Publisher emits claim-analyzed events.
type Publisher interface {
	Publish(ctx context.Context, report *decision.Report, auditRange pipeline.SequenceRange) error
}
