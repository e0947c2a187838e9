package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatepass/internal/notify"
	"gatepass/internal/visit/models"
	"gatepass/internal/visit/service"
)

type fakeLocker struct {
	acquired bool
	grant    bool
	released bool
	err      error
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	l.acquired = true
	return l.grant, l.err
}

func (l *fakeLocker) ReleaseLock(context.Context, string) error {
	l.released = true
	return nil
}

type SweeperSuite struct {
	ServiceSuite
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) newSweeper(opts ...service.SweeperOption) *service.Sweeper {
	opts = append([]service.SweeperOption{
		service.SweeperWithNotifier(s.notifier),
		service.SweeperWithClock(func() time.Time { return s.clock }),
	}, opts...)
	return service.NewSweeper(s.visits, time.Minute, 30*time.Second, opts...)
}

func (s *SweeperSuite) TestSweepFlipsOnlyOverdueExpirable() {
	ctx := context.Background()

	overdue := s.createVisit()
	entered := s.createVisit()
	s.advance(90 * time.Minute)
	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: entered.Token})
	s.Require().NoError(err)
	_, err = s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{QR: entered.Token})
	s.Require().NoError(err)

	// Past the first two windows but not the fresh one.
	s.advance(25 * time.Hour)
	fresh := s.createVisit()

	s.Require().NoError(s.newSweeper().SweepOnce(ctx))

	expired, err := s.visits.FindByID(ctx, overdue.VisitID)
	s.Require().NoError(err)
	s.Equal(models.StateExpired, expired.State)

	completed, err := s.visits.FindByID(ctx, entered.VisitID)
	s.Require().NoError(err)
	s.Equal(models.StateCompleted, completed.State)

	untouched, err := s.visits.FindByID(ctx, fresh.VisitID)
	s.Require().NoError(err)
	s.Equal(models.StatePending, untouched.State)

	s.Contains(s.notifier.kinds(), notify.EventVisitExpired)
}

func (s *SweeperSuite) TestSweepExpiresApprovedVisits() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(90 * time.Minute)
	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Require().NoError(err)

	s.advance(25 * time.Hour)
	s.Require().NoError(s.newSweeper().SweepOnce(ctx))

	visit, err := s.visits.FindByID(ctx, issuance.VisitID)
	s.Require().NoError(err)
	s.Equal(models.StateExpired, visit.State)
}

func (s *SweeperSuite) TestSweepIsIdempotent() {
	ctx := context.Background()
	s.createVisit()
	s.advance(26 * time.Hour)

	sweeper := s.newSweeper()
	s.Require().NoError(sweeper.SweepOnce(ctx))
	firstPass := len(s.notifier.kinds())
	s.Require().NoError(sweeper.SweepOnce(ctx))

	// Nothing left to flip, so no new events.
	s.Len(s.notifier.kinds(), firstPass)
}

func (s *SweeperSuite) TestSweepSkipsWhenLockHeldElsewhere() {
	ctx := context.Background()
	s.createVisit()
	s.advance(26 * time.Hour)

	locker := &fakeLocker{grant: false}
	s.Require().NoError(s.newSweeper(service.SweeperWithLocker(locker)).SweepOnce(ctx))
	s.True(locker.acquired)
	s.False(locker.released)
	s.NotContains(s.notifier.kinds(), notify.EventVisitExpired)
}

func (s *SweeperSuite) TestSweepReleasesLock() {
	ctx := context.Background()
	s.createVisit()
	s.advance(26 * time.Hour)

	locker := &fakeLocker{grant: true}
	s.Require().NoError(s.newSweeper(service.SweeperWithLocker(locker)).SweepOnce(ctx))
	s.True(locker.released)
	s.Contains(s.notifier.kinds(), notify.EventVisitExpired)
}

func (s *SweeperSuite) TestSweepInvalidatesStaleScan() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(26 * time.Hour)

	s.Require().NoError(s.newSweeper().SweepOnce(ctx))

	// A scan arriving after the sweep sees the committed expiration.
	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Error(err)
	s.Contains(err.Error(), "expired")
}
