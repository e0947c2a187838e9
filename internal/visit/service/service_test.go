package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatepass/internal/directory"
	"gatepass/internal/notify"
	"gatepass/internal/qr"
	"gatepass/internal/visit/models"
	"gatepass/internal/visit/service"
	scanstore "gatepass/internal/visit/store/scan"
	visitstore "gatepass/internal/visit/store/visit"
	dErrors "gatepass/pkg/domain-errors"
)

// recordingNotifier captures lifecycle events synchronously for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Enqueue(event notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return true
}

func (n *recordingNotifier) kinds() []notify.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]notify.EventKind, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type ServiceSuite struct {
	suite.Suite

	visits   *visitstore.InMemoryStore
	scans    *scanstore.InMemoryStore
	dir      *directory.InMemoryStore
	notifier *recordingNotifier
	svc      *service.Service

	clock time.Time

	tenantID      uuid.UUID
	otherTenantID uuid.UUID
	adminID       uuid.UUID
	residentID    uuid.UUID
	guardID       uuid.UUID
	outsideGuard  uuid.UUID
	orphanGuard   uuid.UUID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.visits = visitstore.NewInMemory()
	s.scans = scanstore.NewInMemory()
	s.dir = directory.NewInMemory()
	s.notifier = &recordingNotifier{}
	s.clock = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	s.tenantID = uuid.New()
	s.otherTenantID = uuid.New()
	s.adminID = uuid.New()
	s.residentID = uuid.New()
	s.guardID = uuid.New()
	s.outsideGuard = uuid.New()
	s.orphanGuard = uuid.New()

	s.dir.PutTenant(&directory.Tenant{ID: s.tenantID, Name: "Villa Esperanza"})
	s.dir.PutTenant(&directory.Tenant{ID: s.otherTenantID, Name: "Altos del Valle"})
	s.dir.PutAdmin(&directory.Admin{ID: s.adminID, Name: "Laura Flores", TenantID: &s.tenantID})
	s.dir.PutResident(&directory.Resident{ID: s.residentID, Name: "Jorge Castro", Unit: "B-14", TenantID: &s.tenantID})
	s.dir.PutGuard(&directory.Guard{ID: s.guardID, Name: "Pedro Lanza", TenantID: &s.tenantID})
	s.dir.PutGuard(&directory.Guard{ID: s.outsideGuard, Name: "Luis Paz", TenantID: &s.otherTenantID})
	s.dir.PutGuard(&directory.Guard{ID: s.orphanGuard, Name: "Unassigned Guard"})

	key, err := qr.GenerateKey()
	s.Require().NoError(err)
	crypto, err := qr.NewCryptoContext(key, "scan-suite-hmac-secret")
	s.Require().NoError(err)

	s.svc = service.New(s.visits, s.scans, s.dir, qr.NewCodec(crypto),
		service.WithNotifier(s.notifier),
		service.WithClock(func() time.Time { return s.clock }),
		service.WithValidityWindow(24*time.Hour),
	)
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func (s *ServiceSuite) createVisit() *service.QRIssuance {
	issuances, err := s.svc.Create(context.Background(), models.CreatorAdmin, s.adminID, models.CreateVisitRequest{
		Visitors: []models.VisitorPayload{{
			Name:         "Ana Mejia",
			DocumentID:   "0801-1990-01234",
			VehiclePlate: "HAB-1234",
			Destination:  "Casa 12",
		}},
		ScheduledEntry: s.clock.Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().Len(issuances, 1)
	return issuances[0]
}

func (s *ServiceSuite) TestCreateIssuesTokenPerVisitor() {
	issuances, err := s.svc.Create(context.Background(), models.CreatorAdmin, s.adminID, models.CreateVisitRequest{
		Visitors: []models.VisitorPayload{
			{Name: "Ana Mejia", DocumentID: "0801-1990-01234"},
			{Name: "Luis Mejia", DocumentID: "0801-1992-05678", Companions: []string{"Sofia Mejia"}},
		},
		ScheduledEntry: s.clock.Add(2 * time.Hour),
	})
	s.Require().NoError(err)
	s.Require().Len(issuances, 2)

	for _, issuance := range issuances {
		s.NotEmpty(issuance.Token)
		s.NotEqual(models.PlaceholderToken, issuance.Token)
		s.NotEmpty(issuance.ImagePNG)
		s.Equal(s.clock.Add(2*time.Hour).Add(24*time.Hour), issuance.ExpiresAt)

		visit, err := s.visits.FindByToken(context.Background(), issuance.Token)
		s.Require().NoError(err)
		s.Equal(models.StatePending, visit.State)
		s.Equal(s.adminID, visit.CreatorID())
	}
	s.Equal([]notify.EventKind{notify.EventVisitCreated, notify.EventVisitCreated}, s.notifier.kinds())
}

func (s *ServiceSuite) TestCreateRejectsPastSchedule() {
	_, err := s.svc.Create(context.Background(), models.CreatorAdmin, s.adminID, models.CreateVisitRequest{
		Visitors:       []models.VisitorPayload{{Name: "Ana", DocumentID: "0801"}},
		ScheduledEntry: s.clock.Add(-time.Minute),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCreateUnknownCreator() {
	_, err := s.svc.Create(context.Background(), models.CreatorAdmin, uuid.New(), models.CreateVisitRequest{
		Visitors:       []models.VisitorPayload{{Name: "Ana", DocumentID: "0801"}},
		ScheduledEntry: s.clock.Add(time.Hour),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRequestApproveFlow() {
	ctx := context.Background()

	detail, err := s.svc.Request(ctx, s.residentID, models.RequestVisitRequest{
		Visitor:        models.VisitorPayload{Name: "Carmen Diaz", DocumentID: "0801-1995-11111"},
		ScheduledEntry: s.clock.Add(3 * time.Hour),
	})
	s.Require().NoError(err)
	s.Equal(models.StateRequested, detail.Visit.State)
	s.Equal(models.PlaceholderToken, detail.Visit.QRToken)

	// A scan against a requested visit must not pass; it has no real token
	// yet, so any presented string reads as not recognized.
	requests, err := s.svc.ListRequests(ctx)
	s.Require().NoError(err)
	s.Require().Len(requests, 1)

	issuance, err := s.svc.Approve(ctx, s.adminID, detail.Visit.ID)
	s.Require().NoError(err)
	s.NotEqual(models.PlaceholderToken, issuance.Token)

	visit, err := s.visits.FindByID(ctx, detail.Visit.ID)
	s.Require().NoError(err)
	s.Equal(models.StatePending, visit.State)
	// The resident stays the creator.
	s.Equal(models.CreatorResident, visit.CreatorKind)
	s.Equal(s.residentID, visit.CreatorID())

	// Approving twice is a no-go: the visit already left requested.
	_, err = s.svc.Approve(ctx, s.adminID, detail.Visit.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	s.Contains(s.notifier.kinds(), notify.EventVisitRequested)
	s.Contains(s.notifier.kinds(), notify.EventVisitApproved)
}

func (s *ServiceSuite) TestApproveRejectsPastSchedule() {
	ctx := context.Background()
	detail, err := s.svc.Request(ctx, s.residentID, models.RequestVisitRequest{
		Visitor:        models.VisitorPayload{Name: "Carmen Diaz", DocumentID: "0801-1995-11111"},
		ScheduledEntry: s.clock.Add(2 * time.Hour),
	})
	s.Require().NoError(err)

	// The admin only gets to the queue after the requested slot passed.
	s.advance(3 * time.Hour)

	_, err = s.svc.Approve(ctx, s.adminID, detail.Visit.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	visit, err := s.visits.FindByID(ctx, detail.Visit.ID)
	s.Require().NoError(err)
	s.Equal(models.StateRequested, visit.State)
	s.Equal(models.PlaceholderToken, visit.QRToken)
}

func (s *ServiceSuite) TestRejectRequest() {
	ctx := context.Background()
	detail, err := s.svc.Request(ctx, s.residentID, models.RequestVisitRequest{
		Visitor:        models.VisitorPayload{Name: "Carmen Diaz", DocumentID: "0801-1995-11111"},
		ScheduledEntry: s.clock.Add(3 * time.Hour),
	})
	s.Require().NoError(err)

	// The decline is a legal edge of the transition table, not a bypass.
	s.True(models.StateRequested.CanTransitionTo(models.StateRejected))

	s.Require().NoError(s.svc.Reject(ctx, s.adminID, detail.Visit.ID))

	visit, err := s.visits.FindByID(ctx, detail.Visit.ID)
	s.Require().NoError(err)
	s.Equal(models.StateRejected, visit.State)

	s.Run("pending visits are not declinable", func() {
		issuance := s.createVisit()
		err := s.svc.Reject(ctx, s.adminID, issuance.VisitID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestUpdateEditableOnly() {
	ctx := context.Background()
	issuance := s.createVisit()

	s.Run("reschedule re-mints the token", func() {
		newEntry := s.clock.Add(6 * time.Hour)
		updated, err := s.svc.Update(ctx, s.adminID, issuance.VisitID, models.UpdateVisitRequest{
			ScheduledEntry: &newEntry,
		})
		s.Require().NoError(err)
		s.NotEqual(issuance.Token, updated.Token)
		s.Equal(newEntry.Add(24*time.Hour), updated.ExpiresAt)

		_, err = s.visits.FindByToken(ctx, updated.Token)
		s.NoError(err)
	})

	s.Run("only the creator may edit", func() {
		notes := "someone else"
		_, err := s.svc.Update(ctx, uuid.New(), issuance.VisitID, models.UpdateVisitRequest{Notes: &notes})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("scanned visits are frozen", func() {
		scanned := s.createVisit()
		_, err := s.svc.ScanEntry(ctx, s.guardID, "test-device", models.ScanEntryRequest{QR: scanned.Token})
		s.Require().NoError(err)

		notes := "too late"
		_, err = s.svc.Update(ctx, s.adminID, scanned.VisitID, models.UpdateVisitRequest{Notes: &notes})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		err = s.svc.Delete(ctx, s.adminID, scanned.VisitID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestDeletePendingUnscanned() {
	ctx := context.Background()
	issuance := s.createVisit()

	s.Require().NoError(s.svc.Delete(ctx, s.adminID, issuance.VisitID))
	_, err := s.svc.Get(ctx, issuance.VisitID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestListByCreator() {
	ctx := context.Background()
	s.createVisit()
	s.createVisit()

	details, total, err := s.svc.ListByCreator(ctx, models.CreatorAdmin, s.adminID, 0, 10)
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Len(details, 2)
	s.NotNil(details[0].Visitor)
}

func (s *ServiceSuite) TestGetBundlesScanLog() {
	ctx := context.Background()
	issuance := s.createVisit()
	_, err := s.svc.ScanEntry(ctx, s.guardID, "Android / Chrome Mobile", models.ScanEntryRequest{
		QR:     issuance.Token,
		Photos: []string{"https://cdn.example.com/gate.jpg"},
	})
	s.Require().NoError(err)

	detail, err := s.svc.Get(ctx, issuance.VisitID)
	s.Require().NoError(err)
	s.Require().Len(detail.Scans, 1)
	s.Equal(models.ScanEntry, detail.Scans[0].Kind)
	s.Equal("Android / Chrome Mobile", detail.Scans[0].Device)
	s.Require().Len(detail.Photos, 1)
	s.Equal("https://cdn.example.com/gate.jpg", detail.Photos[0].URL)
}
