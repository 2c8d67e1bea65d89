// Package domain holds the core claim value objects and typed identifiers.
// Identifiers are distinct types so a ProviderID can never be passed where a
// PolicyID is expected; the compiler enforces the distinction.
package domain

import (
	"github.com/google/uuid"

	dErrors "claimgate/pkg/domainerrors"
)

// Identifiers issued by the upstream claims backend. They are opaque strings
// to this system; we validate presence, not format.
type (
	ClaimID    string
	PolicyID   string
	ProviderID string

	// MemberHash is the SHA-256 hex digest of the member identifier.
	// The clear member ID never enters this system.
	MemberHash string

	// RuleID names a rule within a ruleset.
	RuleID string
)

// Identifiers minted by this system.
type (
	ReportID uuid.UUID
)

func (id ClaimID) String() string    { return string(id) }
func (id PolicyID) String() string   { return string(id) }
func (id ProviderID) String() string { return string(id) }
func (h MemberHash) String() string  { return string(h) }
func (id RuleID) String() string     { return string(id) }

func (id ReportID) String() string { return uuid.UUID(id).String() }
func (id ReportID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewReportID mints a fresh report identifier.
func NewReportID() ReportID { return ReportID(uuid.New()) }

// MarshalText renders the canonical UUID string so JSON payloads carry the
// readable form, not a byte array.
func (id ReportID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *ReportID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid report_id")
	}
	*id = ReportID(u)
	return nil
}

// ParseClaimID constructs a ClaimID from external input.
// Errors: CodeInvalidInput when empty.
func ParseClaimID(s string) (ClaimID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "claim_id cannot be empty")
	}
	return ClaimID(s), nil
}

// ParseReportID constructs a ReportID from external input.
// Errors: CodeInvalidInput when empty, malformed, or the nil UUID.
func ParseReportID(s string) (ReportID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ReportID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid report_id")
	}
	if u == uuid.Nil {
		return ReportID{}, dErrors.New(dErrors.CodeInvalidInput, "report_id cannot be nil")
	}
	return ReportID(u), nil
}
