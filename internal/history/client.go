// Package history reads supplementary claim history from the external
// read-only data service. This client never issues writes; the upstream
// system of record cannot be corrupted from here.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/sentinel"
)

// Client calls the data service over HTTP. Callers wrap it in the data
// service circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type memberHistoryResponse struct {
	MemberHash     string   `json:"member_id_hash"`
	ClaimCount     int      `json:"claim_count"`
	TotalBilled    float64  `json:"total_billed"`
	LastClaimDate  string   `json:"last_claim_date"`
	RecentClaimIDs []string `json:"recent_claim_ids"`
	DeniedCount    int      `json:"denied_count"`
}

type providerHistoryResponse struct {
	ProviderID    string  `json:"provider_id"`
	ClaimCount    int     `json:"claim_count"`
	TotalBilled   float64 `json:"total_billed"`
	FlaggedCount  int     `json:"flagged_count"`
	AverageBilled float64 `json:"average_billed"`
}

// GetMemberHistory fetches the member's prior-claims view.
// Errors: sentinel.ErrNotFound for unknown members (a valid answer, not a
// dependency failure); sentinel.ErrUnavailable for transport errors and 5xx.
func (c *Client) GetMemberHistory(ctx context.Context, hash domain.MemberHash) (*domain.MemberHistory, error) {
	var resp memberHistoryResponse
	if err := c.get(ctx, "/v1/members/"+url.PathEscape(hash.String())+"/history", &resp); err != nil {
		return nil, err
	}

	h := &domain.MemberHistory{
		MemberHash:  domain.MemberHash(resp.MemberHash),
		ClaimCount:  resp.ClaimCount,
		TotalBilled: resp.TotalBilled,
		DeniedCount: resp.DeniedCount,
	}
	if resp.LastClaimDate != "" {
		t, err := time.Parse(time.RFC3339, resp.LastClaimDate)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "parse last_claim_date")
		}
		h.LastClaimDate = t
	}
	for _, id := range resp.RecentClaimIDs {
		h.RecentClaimIDs = append(h.RecentClaimIDs, domain.ClaimID(id))
	}
	return h, nil
}

// GetProviderHistory fetches the provider's submission-pattern view.
func (c *Client) GetProviderHistory(ctx context.Context, providerID domain.ProviderID) (*domain.ProviderHistory, error) {
	var resp providerHistoryResponse
	if err := c.get(ctx, "/v1/providers/"+url.PathEscape(providerID.String())+"/history", &resp); err != nil {
		return nil, err
	}
	return &domain.ProviderHistory{
		ProviderID:    domain.ProviderID(resp.ProviderID),
		ClaimCount:    resp.ClaimCount,
		TotalBilled:   resp.TotalBilled,
		FlaggedCount:  resp.FlaggedCount,
		AverageBilled: resp.AverageBilled,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build history request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("data service call: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("data service returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("data service returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode history response")
	}
	return nil
}
