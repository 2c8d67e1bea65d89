package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/sentinel"
)

// Client calls the external risk scorer over HTTP. Callers wrap every Score
// call in the scorer's circuit breaker; the client itself only enforces the
// per-call timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a scorer client. timeout bounds a single score call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// scoreRequest is the wire shape sent to the scorer.
type scoreRequest struct {
	ClaimID        string   `json:"claim_id"`
	PolicyID       string   `json:"policy_id"`
	ProviderID     string   `json:"provider_id"`
	MemberHash     string   `json:"member_id_hash"`
	ProcedureCodes []string `json:"procedure_codes"`
	DiagnosisCodes []string `json:"diagnosis_codes"`
	BilledAmount   float64  `json:"billed_amount"`
	ServiceDate    string   `json:"service_date"`
	ClaimType      string   `json:"claim_type"`

	MemberClaimCount    int     `json:"member_claim_count"`
	MemberTotalBilled   float64 `json:"member_total_billed"`
	MemberDeniedCount   int     `json:"member_denied_count"`
	ProviderClaimCount  int     `json:"provider_claim_count"`
	ProviderFlaggedCnt  int     `json:"provider_flagged_count"`
	HistoryDegraded     bool    `json:"history_degraded"`
}

// Score submits the claim and its history to the scorer.
// Errors: sentinel.ErrUnavailable for transport failures and 5xx responses
// so the circuit breaker counts them; CodeInvalidInput for out-of-range
// scores.
func (c *Client) Score(ctx context.Context, cc domain.ClaimContext) (*Assessment, error) {
	payload := scoreRequest{
		ClaimID:            cc.Claim.ClaimID.String(),
		PolicyID:           cc.Claim.PolicyID.String(),
		ProviderID:         cc.Claim.ProviderID.String(),
		MemberHash:         cc.Claim.MemberHash.String(),
		ProcedureCodes:     cc.Claim.ProcedureCodes,
		DiagnosisCodes:     cc.Claim.DiagnosisCodes,
		BilledAmount:       cc.Claim.BilledAmount,
		ServiceDate:        cc.Claim.ServiceDate.Format(time.RFC3339),
		ClaimType:          string(cc.Claim.ClaimType),
		MemberClaimCount:   cc.Member.ClaimCount,
		MemberTotalBilled:  cc.Member.TotalBilled,
		MemberDeniedCount:  cc.Member.DeniedCount,
		ProviderClaimCount: cc.Provider.ClaimCount,
		ProviderFlaggedCnt: cc.Provider.FlaggedCount,
		HistoryDegraded:    cc.Degraded,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal score request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build score request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk scorer call: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("risk scorer returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("risk scorer returned %d", resp.StatusCode))
	}

	var assessment Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode score response")
	}
	if err := assessment.Validate(); err != nil {
		return nil, err
	}
	if assessment.ScoredAt.IsZero() {
		assessment.ScoredAt = time.Now().UTC()
	}
	return &assessment, nil
}
