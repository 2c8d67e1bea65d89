// Package report persists synthesis reports for the review query surface.
package report

import (
	"context"

	"claimgate/internal/decision"
	"claimgate/pkg/domain"
)

// Store persists finished reports. Reports are written once; the latest
// report per claim wins for claim lookups so a reprocessed claim surfaces
// the newest verdict.
type Store interface {
	// Save persists a report. Errors: sentinel.ErrConflict when the report
	// ID already exists.
	Save(ctx context.Context, r *decision.Report) error
	// ByID fetches one report. Errors: sentinel.ErrNotFound.
	ByID(ctx context.Context, id domain.ReportID) (*decision.Report, error)
	// LatestByClaim fetches the newest report for a claim.
	// Errors: sentinel.ErrNotFound.
	LatestByClaim(ctx context.Context, claimID domain.ClaimID) (*decision.Report, error)
	// ListByQueue returns the newest reports routed to a queue, capped at
	// limit, newest first.
	ListByQueue(ctx context.Context, queue decision.Queue, limit int) ([]*decision.Report, error)
}
