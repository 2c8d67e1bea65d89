// Package risk consumes the external fraud-risk scoring engine. The scorer
// is a black box to this system; its output is advisory and never
// authoritative on its own.
package risk

import (
	"time"

	dErrors "claimgate/pkg/domainerrors"
)

// Factor is one named contribution to a risk score.
type Factor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// Assessment is the scorer's verdict for one claim.
type Assessment struct {
	AssessmentID string    `json:"assessment_id"`
	RiskScore    float64   `json:"risk_score"` // [0,1]
	Confidence   float64   `json:"confidence"` // [0,1]
	Factors      []Factor  `json:"factors,omitempty"`
	ModelVersion string    `json:"model_version"`
	ScoredAt     time.Time `json:"scored_at"`
}

// Validate enforces the score and confidence ranges at the trust boundary.
func (a Assessment) Validate() error {
	if a.RiskScore < 0 || a.RiskScore > 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "risk_score must be in [0,1]")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "confidence must be in [0,1]")
	}
	return nil
}
