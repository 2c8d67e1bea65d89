package domain

import "time"

// MemberHistory is the read-only supplementary view of a member's prior
// claims, fetched from the external data service. Empty history is a valid
// degraded state when that service is unavailable.
type MemberHistory struct {
	MemberHash     MemberHash
	ClaimCount     int
	TotalBilled    float64
	LastClaimDate  time.Time
	RecentClaimIDs []ClaimID
	DeniedCount    int
}

// ProviderHistory is the read-only supplementary view of a provider's
// submission pattern.
type ProviderHistory struct {
	ProviderID    ProviderID
	ClaimCount    int
	TotalBilled   float64
	FlaggedCount  int
	AverageBilled float64
}

// ClaimContext bundles everything rule expressions may reference. The rule
// engine flattens this into the evaluator's field namespace.
type ClaimContext struct {
	Claim    ClaimData
	Member   MemberHistory
	Provider ProviderHistory

	// Degraded is true when history could not be fetched and the zero
	// values above stand in for real data.
	Degraded bool
}
