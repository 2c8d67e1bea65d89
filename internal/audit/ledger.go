package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/sentinel"
)

// Store persists chain events. Implementations are INSERT-only; there is no
// update or delete path by design of the interface.
type Store interface {
	// Append persists one event. Errors: sentinel.ErrConflict when the
	// sequence already exists.
	Append(ctx context.Context, event Event) error
	// Last returns the highest-sequence event.
	// Errors: sentinel.ErrNotFound when the chain is empty.
	Last(ctx context.Context) (*Event, error)
	// Range returns events with from <= sequence <= to, ascending.
	Range(ctx context.Context, from, to uint64) ([]Event, error)
	// ByClaim returns all events for a claim, ascending by sequence.
	ByClaim(ctx context.Context, claimID domain.ClaimID) ([]Event, error)
}

// Ledger serializes appends so sequences stay gapless and each event links
// to the true predecessor. One Ledger instance owns a chain; running two
// against the same store corrupts linkage.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	nextSeq  uint64
	lastHash string

	logger *slog.Logger
	now    func() time.Time
}

type LedgerOption func(*Ledger)

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides event timestamps. Tests only.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger opens the chain, resuming from the store's last event so a
// restart continues the existing chain instead of forking it.
func NewLedger(ctx context.Context, store Store, opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		nextSeq:  1,
		lastHash: GenesisHash,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := store.Last(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		// Fresh chain.
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeAuditFailure, "load last audit event")
	default:
		l.nextSeq = last.Sequence + 1
		l.lastHash = last.Hash
	}
	return l, nil
}

// Append records one event. The payload is marshalled once and the bytes
// are hashed; on store failure the sequence is not consumed, so the next
// successful append reuses it and the chain stays gapless.
// Errors: CodeAuditFailure on marshal or store failure.
func (l *Ledger) Append(ctx context.Context, eventType EventType, claimID domain.ClaimID, actor string, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeAuditFailure, "marshal audit payload")
		}
		raw = b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		Sequence:    l.nextSeq,
		EventType:   eventType,
		ClaimID:     claimID,
		Actor:       actor,
		Payload:     raw,
		Timestamp:   l.now().UTC(),
		PayloadHash: hashPayload(raw),
		PrevHash:    l.lastHash,
	}
	event.Hash = chainHash(event.Sequence, event.EventType, event.PayloadHash, event.PrevHash)

	if err := l.store.Append(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "audit append failed",
			"sequence", event.Sequence,
			"event_type", event.EventType,
			"claim_id", claimID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeAuditFailure, "append audit event")
	}

	l.nextSeq = event.Sequence + 1
	l.lastHash = event.Hash
	return &event, nil
}

// Range returns events in [from, to] ascending.
func (l *Ledger) Range(ctx context.Context, from, to uint64) ([]Event, error) {
	if from == 0 || to < from {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid sequence range")
	}
	return l.store.Range(ctx, from, to)
}

// ByClaim returns the full trail for one claim.
func (l *Ledger) ByClaim(ctx context.Context, claimID domain.ClaimID) ([]Event, error) {
	return l.store.ByClaim(ctx, claimID)
}

// VerifyChain re-derives every hash in [from, to] and checks linkage. When
// from > 1 the predecessor event is fetched so the first link is verified
// too, not assumed.
func (l *Ledger) VerifyChain(ctx context.Context, from, to uint64) error {
	if from == 0 || to < from {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid sequence range")
	}

	prevHash := GenesisHash
	fetchFrom := from
	if from > 1 {
		fetchFrom = from - 1
	}

	events, err := l.store.Range(ctx, fetchFrom, to)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuditFailure, "load chain range")
	}
	if len(events) == 0 {
		return dErrors.New(dErrors.CodeNotFound, "no audit events in range")
	}

	expectSeq := fetchFrom
	for i, event := range events {
		if event.Sequence != expectSeq {
			return dErrors.New(dErrors.CodeAuditFailure,
				fmt.Sprintf("sequence gap: expected %d, found %d", expectSeq, event.Sequence))
		}
		if i == 0 && from > 1 {
			// Anchor event: trust its stored hash, verify everything after.
			prevHash = event.Hash
			expectSeq++
			continue
		}
		if err := event.Verify(prevHash); err != nil {
			return dErrors.Wrap(err, dErrors.CodeAuditFailure, "chain verification failed")
		}
		prevHash = event.Hash
		expectSeq++
	}
	return nil
}
