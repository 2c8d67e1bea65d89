// Package audit maintains the tamper-evident processing trail. Every event
// links to its predecessor through a SHA-256 hash chain; any later mutation
// of a stored event breaks verification from that point forward.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"claimgate/pkg/domain"
)

// GenesisHash anchors the chain. The first event links to it.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventType names a processing stage or manual action.
type EventType string

const (
	EventClaimReceived   EventType = "claim_received"
	EventClaimRejected   EventType = "claim_rejected"
	EventHistoryFetched  EventType = "history_fetched"
	EventHistoryDegraded EventType = "history_degraded"
	EventRulesEvaluated  EventType = "rules_evaluated"
	EventRiskScored      EventType = "risk_scored"
	EventRiskDegraded    EventType = "risk_degraded"
	EventReportCreated   EventType = "report_created"
	EventReportPublished EventType = "report_published"
	EventHumanOverride   EventType = "human_override"
)

// Event is one link in the chain. Immutable once appended; the store layer
// is INSERT-only and carries no update path.
type Event struct {
	Sequence  uint64          `json:"sequence"`
	EventType EventType       `json:"event_type"`
	ClaimID   domain.ClaimID  `json:"claim_id"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	PayloadHash string `json:"payload_hash"`
	PrevHash    string `json:"prev_hash"`
	Hash        string `json:"hash"`
}

// hashPayload digests the raw payload bytes. A nil payload hashes the empty
// string so absent and empty payloads chain identically.
func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// chainHash binds an event to its position and predecessor. The separator
// keeps field boundaries unambiguous.
func chainHash(seq uint64, eventType EventType, payloadHash, prevHash string) string {
	input := fmt.Sprintf("%d|%s|%s|%s", seq, eventType, payloadHash, prevHash)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the event's hashes against the given predecessor hash.
func (e Event) Verify(prevHash string) error {
	if e.PrevHash != prevHash {
		return fmt.Errorf("event %d: prev_hash %s does not link to %s", e.Sequence, e.PrevHash, prevHash)
	}
	if got := hashPayload(e.Payload); got != e.PayloadHash {
		return fmt.Errorf("event %d: payload hash mismatch", e.Sequence)
	}
	if got := chainHash(e.Sequence, e.EventType, e.PayloadHash, e.PrevHash); got != e.Hash {
		return fmt.Errorf("event %d: chain hash mismatch", e.Sequence)
	}
	return nil
}
