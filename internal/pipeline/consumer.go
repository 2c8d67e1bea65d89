package pipeline

import (
	"context"
	"log/slog"

	"claimgate/internal/decision"
	"claimgate/internal/platform/kafka"
	"claimgate/internal/platform/metrics"
	"claimgate/pkg/domain"
)

// Processor vets one claim end to end. Reject records claims that never
// reach vetting so the audit trail still explains what happened to them.
type Processor interface {
	Process(ctx context.Context, claim domain.ClaimData) (*decision.Report, error)
	Reject(ctx context.Context, claimID domain.ClaimID, reason string) error
}

// Handler consumes claim-submitted events. The error contract follows the
// commit barrier: returning nil commits the offset, so only infrastructure
// failures return an error. Events that can never succeed (bad signature,
// malformed payload, duplicate) are logged, counted, and committed past.
type Handler struct {
	signer    *Signer
	deduper   Deduper
	processor Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type HandlerOption func(*Handler)

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(signer *Signer, deduper Deduper, processor Processor, opts ...HandlerOption) *Handler {
	h := &Handler{
		signer:    signer,
		deduper:   deduper,
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) error {
	if err := h.signer.Verify(msg.Value, string(msg.Header(HeaderSignature))); err != nil {
		h.skip(ctx, msg, "bad_signature", err)
		return nil
	}

	event, err := DecodeClaimSubmitted(msg.Value)
	if err != nil {
		h.skip(ctx, msg, "malformed", err)
		return nil
	}

	// Redis unavailability is retryable; processing without the dedupe
	// check could vet the same claim twice.
	seen, err := h.deduper.Seen(ctx, event.EventID)
	if err != nil {
		return err
	}
	if seen {
		h.skip(ctx, msg, "duplicate", nil)
		return nil
	}

	claim, err := event.ToClaimData()
	if err != nil {
		h.logger.WarnContext(ctx, "claim rejected before vetting",
			"event_id", event.EventID,
			"claim_id", event.Claim.ClaimID,
			"error", err,
		)
		h.count("invalid_claim")
		if err := h.processor.Reject(ctx, domain.ClaimID(event.Claim.ClaimID), err.Error()); err != nil {
			return err
		}
		if err := h.deduper.Mark(ctx, event.EventID); err != nil {
			h.logger.WarnContext(ctx, "idempotency mark failed", "event_id", event.EventID, "error", err)
		}
		return nil
	}

	if _, err := h.processor.Process(ctx, claim); err != nil {
		return err
	}

	// Marked only after the claim is durably processed, so a mid-flight
	// failure leaves the event eligible for redelivery. A failed mark
	// costs at most one re-vet; partition keying keeps that serial.
	if err := h.deduper.Mark(ctx, event.EventID); err != nil {
		h.logger.WarnContext(ctx, "idempotency mark failed",
			"event_id", event.EventID,
			"error", err,
		)
	}
	return nil
}

func (h *Handler) skip(ctx context.Context, msg *kafka.Message, reason string, err error) {
	h.logger.WarnContext(ctx, "skipping inbound event",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"reason", reason,
		"error", err,
	)
	h.count(reason)
}

func (h *Handler) count(reason string) {
	if h.metrics != nil {
		h.metrics.ObserveRejection(reason)
	}
}
