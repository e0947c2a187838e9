package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"gatepass/internal/directory"
	"gatepass/internal/notify"
	"gatepass/internal/qr"
	"gatepass/internal/visit/models"
	"gatepass/internal/visit/service"
	"gatepass/internal/visit/service/mocks"
	scanstore "gatepass/internal/visit/store/scan"
	visitstore "gatepass/internal/visit/store/visit"
	dErrors "gatepass/pkg/domain-errors"
)

type ScanSuite struct {
	ServiceSuite
}

func TestScanSuite(t *testing.T) {
	suite.Run(t, new(ScanSuite))
}

func (s *ScanSuite) TestEntryDefaultApprove() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(90 * time.Minute)

	outcome, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Require().NoError(err)
	s.Equal(models.StateApproved, outcome.Visit.State)
	s.Require().NotNil(outcome.Visit.GuardID)
	s.Equal(s.guardID, *outcome.Visit.GuardID)
	s.False(outcome.EarlyArrival)
	s.Equal("Ana Mejia", outcome.Visitor.Name)

	events, err := s.scans.ListByVisit(ctx, issuance.VisitID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.ScanEntry, events[0].Kind)
}

func (s *ScanSuite) TestEntryReject() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(90 * time.Minute)

	outcome, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{
		QR:          issuance.Token,
		Action:      "reject",
		Observation: "visitor refused identification",
	})
	s.Require().NoError(err)
	s.Equal(models.StateRejected, outcome.Visit.State)
	s.Equal("visitor refused identification", outcome.Visit.EntryObservation)
}

func (s *ScanSuite) TestSecondScanAlreadyProcessed() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(90 * time.Minute)

	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Require().NoError(err)

	_, err = s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyProcessed))
	s.Contains(err.Error(), "approved")
}

func (s *ScanSuite) TestEarlyArrivalWarning() {
	ctx := context.Background()
	// Scheduled at clock+1h; scanning now is one hour early.
	issuance := s.createVisit()

	outcome, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Require().NoError(err)
	s.True(outcome.EarlyArrival)
	s.NotEmpty(outcome.Warnings)
	s.Equal(models.StateApproved, outcome.Visit.State)
}

func (s *ScanSuite) TestExpiredScanMutatesAndFails() {
	ctx := context.Background()
	issuance := s.createVisit()
	// Scheduled at T+1h, validity 24h: T+26h is one hour past expiration.
	s.advance(26 * time.Hour)

	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))

	// Dual outcome: the scan failed but the expiration committed.
	visit, findErr := s.visits.FindByID(ctx, issuance.VisitID)
	s.Require().NoError(findErr)
	s.Equal(models.StateExpired, visit.State)
	s.True(visit.Expired())

	s.Contains(s.notifier.kinds(), notify.EventVisitExpired)
}

func (s *ScanSuite) TestRequestedVisitNotYetApprovable() {
	ctx := context.Background()
	detail, err := s.svc.Request(ctx, s.residentID, models.RequestVisitRequest{
		Visitor:        models.VisitorPayload{Name: "Carmen Diaz", DocumentID: "0801-1995-11111"},
		ScheduledEntry: s.clock.Add(2 * time.Hour),
	})
	s.Require().NoError(err)

	// Mint the token the approval would issue, then regress the state to
	// exercise the requested-state guard directly.
	issuance, err := s.svc.Approve(ctx, s.adminID, detail.Visit.ID)
	s.Require().NoError(err)
	visit, err := s.visits.FindByID(ctx, detail.Visit.ID)
	s.Require().NoError(err)
	visit.State = models.StateRequested
	s.Require().NoError(s.visits.UpdateCAS(ctx, visit, visit.Version))

	_, err = s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.True(dErrors.HasCode(err, dErrors.CodeNotYetApproved))
}

func (s *ScanSuite) TestTokenResolutionErrors() {
	ctx := context.Background()
	issuance := s.createVisit()

	s.Run("empty token", func() {
		_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: "   "})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("garbage token collapses to not recognized", func() {
		_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: "not-a-token"})
		s.True(dErrors.HasCode(err, dErrors.CodeTokenMalformed) || dErrors.HasCode(err, dErrors.CodeTokenNotRecognized))
		s.Contains(err.Error(), "not recognized")
	})

	s.Run("tampered signature collapses to not recognized", func() {
		tampered := issuance.Token[:len(issuance.Token)-1] + flip(issuance.Token[len(issuance.Token)-1])
		_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: tampered})
		s.Error(err)
		s.Contains(err.Error(), "not recognized")
	})

	s.Run("valid token for a deleted visit", func() {
		ghost := s.createVisit()
		s.Require().NoError(s.svc.Delete(ctx, s.adminID, ghost.VisitID))
		_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: ghost.Token})
		s.True(dErrors.HasCode(err, dErrors.CodeTokenNotRecognized))
	})
}

func flip(b byte) string {
	if b == 'a' {
		return "b"
	}
	return "a"
}

func (s *ScanSuite) TestCrossTenantPrecedesEverything() {
	ctx := context.Background()
	issuance := s.createVisit()
	// Push past expiration: the tenant check must still win.
	s.advance(26 * time.Hour)

	_, err := s.svc.ScanEntry(ctx, s.outsideGuard, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.True(dErrors.HasCode(err, dErrors.CodeCrossTenant))

	// No mutation happened: the visit is still pending, not expired.
	visit, findErr := s.visits.FindByID(ctx, issuance.VisitID)
	s.Require().NoError(findErr)
	s.Equal(models.StatePending, visit.State)
}

func (s *ScanSuite) TestMissingTenantIsConfigurationError() {
	ctx := context.Background()
	issuance := s.createVisit()

	s.Run("guard without tenant", func() {
		_, err := s.svc.ScanEntry(ctx, s.orphanGuard, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
		s.False(dErrors.HasCode(err, dErrors.CodeCrossTenant))
	})

	s.Run("creator without tenant", func() {
		s.dir.PutAdmin(&directory.Admin{ID: s.adminID, Name: "Laura Flores"})
		_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
		s.dir.PutAdmin(&directory.Admin{ID: s.adminID, Name: "Laura Flores", TenantID: &s.tenantID})
	})
}

func (s *ScanSuite) TestExitCompletesAndStampsExit() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(2 * time.Hour)

	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Require().NoError(err)

	s.advance(3 * time.Hour)
	outcome, err := s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{
		QR:          issuance.Token,
		Observation: "left with one passenger",
	})
	s.Require().NoError(err)
	s.Equal(models.StateCompleted, outcome.Visit.State)
	s.Require().NotNil(outcome.Visit.ExitAt)
	s.Equal(s.clock, *outcome.Visit.ExitAt)
	s.False(outcome.LateDeparture)
	s.Equal("left with one passenger", outcome.Visit.ExitObservation)

	events, err := s.scans.ListByVisit(ctx, issuance.VisitID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(models.ScanEntry, events[0].Kind)
	s.Equal(models.ScanExit, events[1].Kind)
}

func (s *ScanSuite) TestExitConflictsDoNotMutate() {
	ctx := context.Background()
	issuance := s.createVisit()

	s.Run("exit before entry", func() {
		_, err := s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{QR: issuance.Token})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyProcessed))

		visit, findErr := s.visits.FindByID(ctx, issuance.VisitID)
		s.Require().NoError(findErr)
		s.Equal(models.StatePending, visit.State)
		s.Nil(visit.ExitAt)
	})

	s.Run("double exit", func() {
		_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
		s.Require().NoError(err)
		_, err = s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{QR: issuance.Token})
		s.Require().NoError(err)

		_, err = s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{QR: issuance.Token})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyProcessed))
		s.Contains(err.Error(), "completed")
	})
}

func (s *ScanSuite) TestLateDepartureWarning() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(2 * time.Hour)

	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
	s.Require().NoError(err)

	// Exit one hour past the token expiration: the visitor still gets out,
	// flagged as a late departure.
	s.advance(24 * time.Hour)
	outcome, err := s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{QR: issuance.Token})
	s.Require().NoError(err)
	s.Equal(models.StateCompleted, outcome.Visit.State)
	s.True(outcome.LateDeparture)
	s.NotEmpty(outcome.Warnings)
}

func (s *ScanSuite) TestConcurrentEntryScansExactlyOneWinner() {
	ctx := context.Background()
	issuance := s.createVisit()
	s.advance(90 * time.Minute)

	const guards = 8
	var wg sync.WaitGroup
	errs := make(chan error, guards)
	for i := 0; i < guards; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: issuance.Token})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		s.True(
			dErrors.HasCode(err, dErrors.CodeAlreadyProcessed) ||
				dErrors.HasCode(err, dErrors.CodeConcurrentModification),
			"unexpected scan race error: %v", err,
		)
	}
	s.Equal(1, wins)

	visit, err := s.visits.FindByID(ctx, issuance.VisitID)
	s.Require().NoError(err)
	s.Equal(models.StateApproved, visit.State)
}

func (s *ScanSuite) TestHistoryListing() {
	ctx := context.Background()
	first := s.createVisit()
	second := s.createVisit()
	s.advance(90 * time.Minute)

	_, err := s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: first.Token})
	s.Require().NoError(err)
	s.advance(time.Minute)
	_, err = s.svc.ScanEntry(ctx, s.guardID, "gate-tablet", models.ScanEntryRequest{QR: second.Token})
	s.Require().NoError(err)
	s.advance(time.Minute)
	_, err = s.svc.ScanExit(ctx, s.guardID, "gate-tablet", models.ScanExitRequest{QR: first.Token})
	s.Require().NoError(err)

	entries, total, err := s.svc.History(ctx, scanstore.HistoryFilter{Kind: models.ScanEntry})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Require().Len(entries, 2)
	s.NotNil(entries[0].Visit)
	s.NotNil(entries[0].Visitor)
	// Newest first.
	s.Equal(second.VisitID, entries[0].Event.VisitID)
}

// TestNotifierReceivesScanEvent wires the generated mock to pin down the
// exact event the scan path emits.
func TestNotifierReceivesScanEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	visits := visitstore.NewInMemory()
	scans := scanstore.NewInMemory()
	dir := directory.NewInMemory()
	tenantID := uuid.New()
	adminID := uuid.New()
	guardID := uuid.New()
	dir.PutTenant(&directory.Tenant{ID: tenantID, Name: "Villa Esperanza"})
	dir.PutAdmin(&directory.Admin{ID: adminID, Name: "Laura", TenantID: &tenantID})
	dir.PutGuard(&directory.Guard{ID: guardID, Name: "Pedro", TenantID: &tenantID})

	key, err := qr.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	crypto, err := qr.NewCryptoContext(key, "mock-secret")
	if err != nil {
		t.Fatal(err)
	}

	notifier := mocks.NewMockNotifier(ctrl)
	svc := service.New(visits, scans, dir, qr.NewCodec(crypto),
		service.WithNotifier(notifier),
	)

	notifier.EXPECT().Enqueue(gomock.Cond(func(e notify.Event) bool {
		return e.Kind == notify.EventVisitCreated
	})).Return(true)

	issuances, err := svc.Create(context.Background(), models.CreatorAdmin, adminID, models.CreateVisitRequest{
		Visitors:       []models.VisitorPayload{{Name: "Ana", DocumentID: "0801"}},
		ScheduledEntry: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}

	notifier.EXPECT().Enqueue(gomock.Cond(func(e notify.Event) bool {
		return e.Kind == notify.EventEntryScanned && e.ActorID == guardID && e.ActorRole == "guard"
	})).Return(true)

	if _, err := svc.ScanEntry(context.Background(), guardID, "gate-tablet", models.ScanEntryRequest{QR: issuances[0].Token}); err != nil {
		t.Fatalf("scan entry: %v", err)
	}
}
