package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"claimgate/internal/decision"
	"claimgate/internal/platform/kafka"
	"claimgate/pkg/domain"
)

type fakeProcessor struct {
	processed []domain.ClaimData
	rejected  []domain.ClaimID
	err       error
}

func (f *fakeProcessor) Process(_ context.Context, claim domain.ClaimData) (*decision.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.processed = append(f.processed, claim)
	return &decision.Report{ClaimID: claim.ClaimID}, nil
}

func (f *fakeProcessor) Reject(_ context.Context, claimID domain.ClaimID, _ string) error {
	f.rejected = append(f.rejected, claimID)
	return nil
}

type HandlerSuite struct {
	suite.Suite
	ctx       context.Context
	signer    *Signer
	deduper   *MemoryDeduper
	processor *fakeProcessor
	handler   *Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	var err error
	s.signer, err = NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	s.Require().NoError(err)
	s.deduper = NewMemoryDeduper()
	s.processor = &fakeProcessor{}
	s.handler = NewHandler(s.signer, s.deduper, s.processor)
}

func (s *HandlerSuite) submittedEvent(eventID, claimID string) []byte {
	event := ClaimSubmittedEvent{
		EventID:    eventID,
		EventType:  EventTypeClaimSubmitted,
		Producer:   "claims-backend",
		OccurredAt: time.Now(),
		Claim: SubmittedClaim{
			ClaimID:        claimID,
			PolicyID:       "POL-1",
			ProviderID:     "PRV-1",
			MemberHash:     "a1b2c3",
			ProcedureCodes: []string{"99213"},
			BilledAmount:   120,
			ServiceDate:    "2025-05-10T00:00:00Z",
			ClaimType:      "professional",
			SubmittedAt:    "2025-05-12T00:00:00Z",
		},
	}
	b, err := json.Marshal(event)
	s.Require().NoError(err)
	return b
}

func (s *HandlerSuite) signedMessage(value []byte) *kafka.Message {
	return &kafka.Message{
		Topic: TopicClaimSubmitted,
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderSignature, Value: []byte(s.signer.Sign(value))},
		},
	}
}

func (s *HandlerSuite) TestProcessesValidEvent() {
	msg := s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))

	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Require().Len(s.processor.processed, 1)
	s.Equal(domain.ClaimID("CLM-1"), s.processor.processed[0].ClaimID)
}

func (s *HandlerSuite) TestSkipsUnsignedEvent() {
	msg := &kafka.Message{Topic: TopicClaimSubmitted, Value: s.submittedEvent("ev-1", "CLM-1")}

	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Empty(s.processor.processed)
}

func (s *HandlerSuite) TestSkipsTamperedEvent() {
	msg := s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))
	msg.Value = append([]byte{}, msg.Value...)
	msg.Value[len(msg.Value)-2] ^= 0xff

	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Empty(s.processor.processed)
}

func (s *HandlerSuite) TestSkipsMalformedEvent() {
	value := []byte(`{"event_type":"claim.submitted"`)
	msg := s.signedMessage(value)

	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Empty(s.processor.processed)
}

func (s *HandlerSuite) TestDeduplicatesByEventID() {
	msg := s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))

	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Require().NoError(s.handler.Handle(s.ctx, msg))

	s.Len(s.processor.processed, 1)
}

func (s *HandlerSuite) TestDistinctEventsBothProcess() {
	s.Require().NoError(s.handler.Handle(s.ctx, s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))))
	s.Require().NoError(s.handler.Handle(s.ctx, s.signedMessage(s.submittedEvent("ev-2", "CLM-2"))))

	s.Len(s.processor.processed, 2)
}

func (s *HandlerSuite) TestInvalidClaimIsRejectedNotProcessed() {
	event := s.submittedEvent("ev-1", "CLM-1")
	var decoded map[string]any
	s.Require().NoError(json.Unmarshal(event, &decoded))
	claim := decoded["claim"].(map[string]any)
	claim["claim_type"] = "bogus"
	value, err := json.Marshal(decoded)
	s.Require().NoError(err)

	s.Require().NoError(s.handler.Handle(s.ctx, s.signedMessage(value)))
	s.Empty(s.processor.processed)
	s.Equal([]domain.ClaimID{"CLM-1"}, s.processor.rejected)
}

func (s *HandlerSuite) TestProcessorFailurePropagates() {
	s.processor.err = errors.New("audit store down")
	msg := s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))

	err := s.handler.Handle(s.ctx, msg)
	s.Require().Error(err)
}

func (s *HandlerSuite) TestFailedEventIsNotMarkedSeen() {
	s.processor.err = errors.New("audit store down")
	msg := s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))
	s.Require().Error(s.handler.Handle(s.ctx, msg))

	// Redelivery after recovery processes the event instead of skipping
	// it as a duplicate.
	s.processor.err = nil
	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Len(s.processor.processed, 1)
}

func (s *HandlerSuite) TestDeduperFailurePropagates() {
	handler := NewHandler(s.signer, failingDeduper{}, s.processor)
	msg := s.signedMessage(s.submittedEvent("ev-1", "CLM-1"))

	s.Require().Error(handler.Handle(s.ctx, msg))
	s.Empty(s.processor.processed)
}

type failingDeduper struct{}

func (failingDeduper) Seen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingDeduper) Mark(context.Context, string) error {
	return errors.New("redis down")
}
