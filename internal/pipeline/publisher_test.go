package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimgate/internal/decision"
	"claimgate/internal/platform/kafka"
	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/circuit"
)

type fakeProducer struct {
	failures int
	calls    int
	topic    string
	key      []byte
	value    []byte
	headers  []kafka.Header
}

func (f *fakeProducer) Produce(_ context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unreachable")
	}
	f.topic = topic
	f.key = key
	f.value = value
	f.headers = headers
	return nil
}

func testReport() *decision.Report {
	return &decision.Report{
		ReportID:       domain.NewReportID(),
		ClaimID:        "CLM-55",
		Recommendation: decision.RecommendationManualReview,
		Queue:          decision.QueueSeniorReview,
		Priority:       3,
		SLAHours:       24,
		CreatedAt:      time.Now().UTC(),
	}
}

func newTestPublisher(t *testing.T, prod producer, opts ...PublisherOption) *Publisher {
	t.Helper()
	signer, err := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	opts = append(opts, withSleep(func(context.Context, time.Duration) error { return nil }))
	return NewPublisher(prod, signer, TopicClaimAnalyzed, opts...)
}

func TestPublisher_SignsAndKeysByClaim(t *testing.T) {
	prod := &fakeProducer{}
	pub := newTestPublisher(t, prod)

	report := testReport()
	require.NoError(t, pub.Publish(context.Background(), report, SequenceRange{From: 10, To: 17}))

	assert.Equal(t, TopicClaimAnalyzed, prod.topic)
	assert.Equal(t, []byte("CLM-55"), prod.key)

	var event ClaimAnalyzedEvent
	require.NoError(t, json.Unmarshal(prod.value, &event))
	assert.Equal(t, EventTypeClaimAnalyzed, event.EventType)
	assert.Equal(t, report.ReportID, event.ReportID)
	assert.Equal(t, uint64(10), event.AuditSequenceRange.From)
	assert.Equal(t, uint64(17), event.AuditSequenceRange.To)

	signer, err := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	var sig string
	for _, h := range prod.headers {
		if h.Key == HeaderSignature {
			sig = string(h.Value)
		}
	}
	require.NoError(t, signer.Verify(prod.value, sig))
}

func TestPublisher_RetriesTransientFailures(t *testing.T) {
	prod := &fakeProducer{failures: 2}
	pub := newTestPublisher(t, prod, WithMaxAttempts(3))

	require.NoError(t, pub.Publish(context.Background(), testReport(), SequenceRange{From: 1, To: 3}))
	assert.Equal(t, 3, prod.calls)
}

func TestPublisher_ExhaustedRetriesReturnUnavailable(t *testing.T) {
	prod := &fakeProducer{failures: 10}
	pub := newTestPublisher(t, prod, WithMaxAttempts(3))

	err := pub.Publish(context.Background(), testReport(), SequenceRange{From: 1, To: 3})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, 3, prod.calls)
}

func TestPublisher_OpenBreakerFailsFast(t *testing.T) {
	prod := &fakeProducer{failures: 10}
	breaker := circuit.New("kafka-producer", circuit.WithFailureThreshold(2))
	pub := newTestPublisher(t, prod, WithMaxAttempts(2), WithPublisherBreaker(breaker))

	err := pub.Publish(context.Background(), testReport(), SequenceRange{From: 1, To: 1})
	require.Error(t, err)
	assert.Equal(t, 2, prod.calls)

	// The breaker is now open; the next publish never reaches the broker.
	err = pub.Publish(context.Background(), testReport(), SequenceRange{From: 1, To: 1})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, 2, prod.calls)
}

func TestPublisher_StopsOnCancelledContext(t *testing.T) {
	prod := &fakeProducer{failures: 10}
	signer, err := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	pub := NewPublisher(prod, signer, TopicClaimAnalyzed, WithMaxAttempts(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pub.Publish(ctx, testReport(), SequenceRange{From: 1, To: 1})
	require.Error(t, err)
	assert.Less(t, prod.calls, 5)
}
