package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"claimgate/internal/decision"
	"claimgate/pkg/domain"
	"claimgate/pkg/platform/sentinel"
)

// Postgres stores reports in the reports table. The full report rides in a
// JSONB body column; the indexed columns exist for queue listings only.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Save(ctx context.Context, r *decision.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	query := `
		INSERT INTO reports (
			report_id, claim_id, recommendation, queue, priority, sla_hours,
			confidence, combined_risk_score, risk_degraded, body, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ReportID.String(),
		r.ClaimID.String(),
		string(r.Recommendation),
		string(r.Queue),
		r.Priority,
		r.SLAHours,
		r.Confidence,
		r.CombinedRiskScore,
		r.RiskDegraded,
		body,
		r.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("report %s already saved: %w", r.ReportID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *Postgres) ByID(ctx context.Context, id domain.ReportID) (*decision.Report, error) {
	return s.queryOne(ctx, `SELECT body FROM reports WHERE report_id = $1`, id.String())
}

func (s *Postgres) LatestByClaim(ctx context.Context, claimID domain.ClaimID) (*decision.Report, error) {
	query := `SELECT body FROM reports WHERE claim_id = $1 ORDER BY created_at DESC LIMIT 1`
	return s.queryOne(ctx, query, claimID.String())
}

func (s *Postgres) ListByQueue(ctx context.Context, queue decision.Queue, limit int) ([]*decision.Report, error) {
	query := `SELECT body FROM reports WHERE queue = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, string(queue), limit)
	if err != nil {
		return nil, fmt.Errorf("query reports by queue: %w", err)
	}
	defer rows.Close()

	var out []*decision.Report
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r decision.Report
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

func (s *Postgres) queryOne(ctx context.Context, query string, arg any) (*decision.Report, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	var r decision.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}
