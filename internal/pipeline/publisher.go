package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"claimgate/internal/decision"
	"claimgate/internal/platform/kafka"
	"claimgate/internal/platform/metrics"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/circuit"
)

// producer is the transport seam; kafka.Producer satisfies it.
type producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Publisher signs and publishes claim-analyzed events with bounded retry.
// Publishing is best-effort by contract: the report is already durable and
// audited when Publish runs, so exhausted retries degrade to a logged
// failure instead of failing the claim.
type Publisher struct {
	producer producer
	signer   *Signer
	topic    string

	maxAttempts int
	backoff     time.Duration
	breaker     *circuit.Breaker
	sleep       func(ctx context.Context, d time.Duration) error

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

func WithMaxAttempts(n int) PublisherOption {
	return func(p *Publisher) { p.maxAttempts = n }
}

func WithBackoff(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.backoff = d }
}

// WithPublisherBreaker fails fast while the broker is known unreachable
// instead of burning the retry budget per claim.
func WithPublisherBreaker(b *circuit.Breaker) PublisherOption {
	return func(p *Publisher) { p.breaker = b }
}

// withSleep overrides retry waits. Tests only.
func withSleep(sleep func(ctx context.Context, d time.Duration) error) PublisherOption {
	return func(p *Publisher) { p.sleep = sleep }
}

func NewPublisher(prod producer, signer *Signer, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		producer:    prod,
		signer:      signer,
		topic:       topic,
		maxAttempts: 3,
		backoff:     250 * time.Millisecond,
		logger:      slog.Default(),
	}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish emits the claim-analyzed event, keyed by claim ID so per-claim
// ordering holds. Errors: CodeUnavailable after all attempts fail.
func (p *Publisher) Publish(ctx context.Context, report *decision.Report, auditRange SequenceRange) error {
	event := NewClaimAnalyzedEvent(uuid.NewString(), report, auditRange, time.Now())
	value, err := json.Marshal(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal claim-analyzed event")
	}

	headers := []kafka.Header{
		{Key: HeaderSignature, Value: []byte(p.signer.Sign(value))},
		{Key: HeaderEventID, Value: []byte(event.EventID)},
	}

	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.produce(ctx, []byte(report.ClaimID), value, headers)
		if lastErr == nil {
			return nil
		}
		p.logger.WarnContext(ctx, "publish attempt failed",
			"claim_id", report.ClaimID,
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt == p.maxAttempts {
			break
		}
		if err := p.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
	}

	if p.metrics != nil {
		p.metrics.PublishFailures.Inc()
	}
	p.logger.ErrorContext(ctx, "claim-analyzed publish exhausted retries",
		"claim_id", report.ClaimID,
		"report_id", report.ReportID,
		"error", lastErr,
	)
	return dErrors.Wrap(lastErr, dErrors.CodeUnavailable, "publish claim-analyzed event")
}

func (p *Publisher) produce(ctx context.Context, key, value []byte, headers []kafka.Header) error {
	if p.breaker == nil {
		return p.producer.Produce(ctx, p.topic, key, value, headers...)
	}
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.producer.Produce(ctx, p.topic, key, value, headers...)
	})
}
