package domain

import (
	"time"

	dErrors "claimgate/pkg/domainerrors"
)

// ClaimType distinguishes the broad billing category of a claim.
// Invariant: the value must be one of the supported claim types.
type ClaimType string

const (
	ClaimTypeProfessional ClaimType = "professional"
	ClaimTypeInstitution  ClaimType = "institutional"
	ClaimTypePharmacy     ClaimType = "pharmacy"
	ClaimTypeDental       ClaimType = "dental"
)

// validClaimTypes is the single source of truth for valid claim types.
var validClaimTypes = map[ClaimType]bool{
	ClaimTypeProfessional: true,
	ClaimTypeInstitution:  true,
	ClaimTypePharmacy:     true,
	ClaimTypeDental:       true,
}

func (t ClaimType) IsValid() bool { return validClaimTypes[t] }

// ParseClaimType constructs a ClaimType from external input.
// Errors: CodeInvalidInput when the value is empty or unsupported.
func ParseClaimType(s string) (ClaimType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "claim_type cannot be empty")
	}
	t := ClaimType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported claim_type: "+s)
	}
	return t, nil
}

// ClaimData is the immutable view of a submitted claim. It is created once
// per claim-submitted event and consumed by rules, the risk scorer, and the
// audit ledger by reference; nothing downstream mutates it.
type ClaimData struct {
	ClaimID        ClaimID
	PolicyID       PolicyID
	ProviderID     ProviderID
	MemberHash     MemberHash
	ProcedureCodes []string
	DiagnosisCodes []string
	BilledAmount   float64
	ServiceDate    time.Time
	ClaimType      ClaimType
	SubmittedAt    time.Time
}

// Validate enforces the trust-boundary invariants on an incoming claim.
// BilledAmount is deliberately not range-checked here: negative and
// outsized amounts are business facts the ruleset must see and judge.
func (c ClaimData) Validate() error {
	if c.ClaimID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "claim_id is required")
	}
	if c.PolicyID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "policy_id is required")
	}
	if c.ProviderID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "provider_id is required")
	}
	if c.MemberHash == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "member_id_hash is required")
	}
	if !c.ClaimType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unsupported claim_type")
	}
	if c.ServiceDate.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "service_date is required")
	}
	return nil
}
