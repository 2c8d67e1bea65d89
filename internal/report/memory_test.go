package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"claimgate/internal/decision"
	"claimgate/pkg/domain"
	"claimgate/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *StoreSuite) newReport(claimID domain.ClaimID, queue decision.Queue, createdAt time.Time) *decision.Report {
	return &decision.Report{
		ReportID:       domain.NewReportID(),
		ClaimID:        claimID,
		Recommendation: decision.RecommendationManualReview,
		Queue:          queue,
		Priority:       queue.Priority(),
		SLAHours:       queue.SLAHours(),
		CreatedAt:      createdAt,
	}
}

func (s *StoreSuite) TestSaveAndLookup() {
	s.Run("saves and finds by id", func() {
		r := s.newReport("CLM-1", decision.QueueStandardReview, time.Now())
		s.Require().NoError(s.store.Save(s.ctx, r))

		found, err := s.store.ByID(s.ctx, r.ReportID)
		s.Require().NoError(err)
		s.Equal(r.ClaimID, found.ClaimID)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.ByID(s.ctx, domain.NewReportID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate report id", func() {
		r := s.newReport("CLM-2", decision.QueueStandardReview, time.Now())
		s.Require().NoError(s.store.Save(s.ctx, r))
		s.Require().ErrorIs(s.store.Save(s.ctx, r), sentinel.ErrConflict)
	})
}

func (s *StoreSuite) TestLatestByClaim() {
	older := s.newReport("CLM-3", decision.QueueStandardReview, time.Now().Add(-time.Hour))
	newer := s.newReport("CLM-3", decision.QueueSeniorReview, time.Now())
	s.Require().NoError(s.store.Save(s.ctx, older))
	s.Require().NoError(s.store.Save(s.ctx, newer))

	latest, err := s.store.LatestByClaim(s.ctx, "CLM-3")
	s.Require().NoError(err)
	s.Equal(newer.ReportID, latest.ReportID)

	_, err = s.store.LatestByClaim(s.ctx, "CLM-none")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestListByQueue() {
	base := time.Now()
	for i := range 5 {
		r := s.newReport(domain.ClaimID("CLM-q"), decision.QueueSeniorReview, base.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.store.Save(s.ctx, r))
	}
	s.Require().NoError(s.store.Save(s.ctx, s.newReport("CLM-other", decision.QueueStandardReview, base)))

	reports, err := s.store.ListByQueue(s.ctx, decision.QueueSeniorReview, 3)
	s.Require().NoError(err)
	s.Len(reports, 3)
	for i := 1; i < len(reports); i++ {
		s.True(reports[i].CreatedAt.Before(reports[i-1].CreatedAt) || reports[i].CreatedAt.Equal(reports[i-1].CreatedAt))
	}
}

func (s *StoreSuite) TestReturnsCopies() {
	r := s.newReport("CLM-4", decision.QueueStandardReview, time.Now())
	s.Require().NoError(s.store.Save(s.ctx, r))

	found, err := s.store.ByID(s.ctx, r.ReportID)
	s.Require().NoError(err)
	found.Recommendation = decision.RecommendationApprove

	again, err := s.store.ByID(s.ctx, r.ReportID)
	s.Require().NoError(err)
	s.Equal(decision.RecommendationManualReview, again.Recommendation)
}
