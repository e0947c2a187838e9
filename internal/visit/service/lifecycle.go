package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"gatepass/internal/notify"
	"gatepass/internal/visit/models"
	dErrors "gatepass/pkg/domain-errors"
	"gatepass/pkg/platform/sentinel"
)

const qrImageSize = 512

// Create authorizes one visit per visitor and returns the issued tokens.
// Each visit is inserted with the placeholder token first, then finalized
// once its id exists to encrypt into the payload.
func (s *Service) Create(ctx context.Context, creatorKind models.CreatorKind, creatorID uuid.UUID, req models.CreateVisitRequest) ([]*QRIssuance, error) {
	ctx, span := s.tracer.Start(ctx, "visit.create")
	defer span.End()

	now := s.localNow()
	if req.ScheduledEntry.Before(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "scheduled entry time is in the past")
	}
	if err := s.resolveCreatorTenant(ctx, creatorKind, creatorID); err != nil {
		return nil, err
	}

	issuances := make([]*QRIssuance, 0, len(req.Visitors))
	for _, payload := range req.Visitors {
		visitor := newVisitor(payload, s.now())
		visit, err := models.NewVisit(visitor.ID, creatorKind, creatorID, req.ScheduledEntry, s.validity, req.Notes, s.now())
		if err != nil {
			return nil, err
		}
		if err := s.visits.Create(ctx, visit, visitor); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist visit")
		}
		issuance, err := s.finalizeToken(ctx, visit, visitor)
		if err != nil {
			return nil, err
		}
		issuances = append(issuances, issuance)

		s.emit(notify.Event{
			Kind:      notify.EventVisitCreated,
			VisitID:   visit.ID,
			ActorID:   creatorID,
			ActorRole: string(creatorKind),
		})
		if s.metrics != nil {
			s.metrics.IncrementVisitsCreated()
		}
	}
	return issuances, nil
}

// finalizeToken mints the real token for a visit that still carries the
// placeholder and renders the QR image.
func (s *Service) finalizeToken(ctx context.Context, visit *models.Visit, visitor *models.Visitor) (*QRIssuance, error) {
	token, err := s.codec.Encode(visit.ID, visit.QRExpiresAt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint QR token")
	}
	visit.QRToken = token
	visit.UpdatedAt = s.now()
	if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize QR token")
	}

	image, err := qrImage(token)
	if err != nil {
		return nil, err
	}
	return &QRIssuance{
		VisitID:   visit.ID,
		Token:     token,
		ImagePNG:  image,
		ExpiresAt: visit.QRExpiresAt,
		Visitor:   visitor,
	}, nil
}

// Request records a resident-submitted visit that an administrator must
// approve before any token is issued.
func (s *Service) Request(ctx context.Context, residentID uuid.UUID, req models.RequestVisitRequest) (*VisitDetail, error) {
	ctx, span := s.tracer.Start(ctx, "visit.request")
	defer span.End()

	now := s.localNow()
	if req.ScheduledEntry.Before(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "scheduled entry time is in the past")
	}
	if _, err := s.directory.FindResident(ctx, residentID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "resident not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve resident")
	}

	visitor := newVisitor(req.Visitor, s.now())
	visit, err := models.NewVisitRequest(visitor.ID, residentID, req.ScheduledEntry, s.validity, req.Notes, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.visits.Create(ctx, visit, visitor); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist visit request")
	}

	s.emit(notify.Event{
		Kind:      notify.EventVisitRequested,
		VisitID:   visit.ID,
		ActorID:   residentID,
		ActorRole: string(models.CreatorResident),
	})
	if s.metrics != nil {
		s.metrics.VisitRequestsCreated.Inc()
	}
	return &VisitDetail{Visit: visit, Visitor: visitor}, nil
}

// Approve moves a requested visit to pending and issues its token. The
// resident stays the creator; the approving administrator is carried on the
// lifecycle event.
func (s *Service) Approve(ctx context.Context, adminID, visitID uuid.UUID) (*QRIssuance, error) {
	ctx, span := s.tracer.Start(ctx, "visit.approve")
	defer span.End()

	visit, err := s.loadVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.ScheduledEntry.Before(s.localNow()) {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot approve a request whose scheduled entry time is in the past")
	}
	token, err := s.codec.Encode(visit.ID, visit.QRExpiresAt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint QR token")
	}
	if err := visit.ApplyApproval(token, s.now()); err != nil {
		return nil, err
	}
	if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			return nil, dErrors.New(dErrors.CodeConcurrentModification, "visit was modified concurrently, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve visit")
	}

	visitor, err := s.loadVisitor(ctx, visit.VisitorID)
	if err != nil {
		return nil, err
	}
	image, err := qrImage(token)
	if err != nil {
		return nil, err
	}

	s.emit(notify.Event{
		Kind:      notify.EventVisitApproved,
		VisitID:   visit.ID,
		ActorID:   adminID,
		ActorRole: "admin",
	})
	return &QRIssuance{
		VisitID:   visit.ID,
		Token:     token,
		ImagePNG:  image,
		ExpiresAt: visit.QRExpiresAt,
		Visitor:   visitor,
	}, nil
}

// Reject declines a requested visit. It stays an audit record in rejected.
func (s *Service) Reject(ctx context.Context, adminID, visitID uuid.UUID) error {
	visit, err := s.loadVisit(ctx, visitID)
	if err != nil {
		return err
	}
	if err := visit.ApplyRequestRejection(s.now()); err != nil {
		return err
	}
	if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			return dErrors.New(dErrors.CodeConcurrentModification, "visit was modified concurrently, retry")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reject visit request")
	}
	s.emit(notify.Event{
		Kind:      notify.EventVisitRejected,
		VisitID:   visit.ID,
		ActorID:   adminID,
		ActorRole: "admin",
	})
	return nil
}

// ListRequests returns resident requests awaiting administrator approval.
func (s *Service) ListRequests(ctx context.Context) ([]*VisitDetail, error) {
	visits, err := s.visits.ListRequested(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list visit requests")
	}
	details := make([]*VisitDetail, 0, len(visits))
	for _, visit := range visits {
		visitor, err := s.loadVisitor(ctx, visit.VisitorID)
		if err != nil {
			return nil, err
		}
		details = append(details, &VisitDetail{Visit: visit, Visitor: visitor})
	}
	return details, nil
}

// Get returns a visit with its visitor, scan log and photos.
func (s *Service) Get(ctx context.Context, visitID uuid.UUID) (*VisitDetail, error) {
	visit, err := s.loadVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	visitor, err := s.loadVisitor(ctx, visit.VisitorID)
	if err != nil {
		return nil, err
	}
	scans, err := s.scans.ListByVisit(ctx, visitID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load scan history")
	}
	photos, err := s.scans.PhotosByVisit(ctx, visitID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load evidence photos")
	}
	return &VisitDetail{Visit: visit, Visitor: visitor, Scans: scans, Photos: photos}, nil
}

// ListByCreator pages through a creator's visits, newest scheduled first.
func (s *Service) ListByCreator(ctx context.Context, kind models.CreatorKind, creatorID uuid.UUID, offset, limit int) ([]*VisitDetail, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	visits, total, err := s.visits.ListByCreator(ctx, kind, creatorID, offset, limit)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list visits")
	}
	details := make([]*VisitDetail, 0, len(visits))
	for _, visit := range visits {
		visitor, err := s.loadVisitor(ctx, visit.VisitorID)
		if err != nil {
			return nil, 0, err
		}
		details = append(details, &VisitDetail{Visit: visit, Visitor: visitor})
	}
	return details, total, nil
}

// Update edits a visit that is still pending and unscanned. Rescheduling
// re-mints the token so the encrypted expiration stays truthful.
func (s *Service) Update(ctx context.Context, actorID uuid.UUID, visitID uuid.UUID, req models.UpdateVisitRequest) (*QRIssuance, error) {
	visit, err := s.loadVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.CreatorID() != actorID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the visit creator may edit it")
	}
	if !visit.Editable() {
		return nil, dErrors.New(dErrors.CodeConflict, "visit can no longer be edited: it was already scanned or left the pending state")
	}

	visitor, err := s.loadVisitor(ctx, visit.VisitorID)
	if err != nil {
		return nil, err
	}
	if req.Visitor != nil {
		applyVisitorPayload(visitor, *req.Visitor)
		if err := s.visits.UpdateVisitor(ctx, visitor); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update visitor")
		}
	}
	if req.Notes != nil {
		visit.Notes = *req.Notes
	}
	token := visit.QRToken
	if req.ScheduledEntry != nil {
		if req.ScheduledEntry.Before(s.localNow()) {
			return nil, dErrors.New(dErrors.CodeValidation, "scheduled entry time is in the past")
		}
		visit.ScheduledEntry = *req.ScheduledEntry
		visit.QRExpiresAt = req.ScheduledEntry.Add(s.validity)
		token, err = s.codec.Encode(visit.ID, visit.QRExpiresAt)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint QR token")
		}
		visit.QRToken = token
	}
	visit.UpdatedAt = s.now()
	if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			return nil, dErrors.New(dErrors.CodeConcurrentModification, "visit was modified concurrently, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update visit")
	}

	image, err := qrImage(token)
	if err != nil {
		return nil, err
	}
	return &QRIssuance{
		VisitID:   visit.ID,
		Token:     token,
		ImagePNG:  image,
		ExpiresAt: visit.QRExpiresAt,
		Visitor:   visitor,
	}, nil
}

// Delete removes a visit that is still pending and unscanned. Once scanned,
// a visit is retained indefinitely as an audit record.
func (s *Service) Delete(ctx context.Context, actorID uuid.UUID, visitID uuid.UUID) error {
	visit, err := s.loadVisit(ctx, visitID)
	if err != nil {
		return err
	}
	if visit.CreatorID() != actorID {
		return dErrors.New(dErrors.CodeForbidden, "only the visit creator may delete it")
	}
	if !visit.Editable() && visit.State != models.StateRequested {
		return dErrors.New(dErrors.CodeConflict, "visit can no longer be deleted: it was already scanned or left the pending state")
	}
	if err := s.visits.Delete(ctx, visitID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete visit")
	}
	return nil
}

func (s *Service) loadVisit(ctx context.Context, visitID uuid.UUID) (*models.Visit, error) {
	visit, err := s.visits.FindByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "visit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load visit")
	}
	return visit, nil
}

func (s *Service) loadVisitor(ctx context.Context, visitorID uuid.UUID) (*models.Visitor, error) {
	visitor, err := s.visits.FindVisitor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "visitor not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load visitor")
	}
	return visitor, nil
}

func newVisitor(payload models.VisitorPayload, now time.Time) *models.Visitor {
	visitor := &models.Visitor{
		ID:        uuid.New(),
		CreatedAt: now,
	}
	applyVisitorPayload(visitor, payload)
	return visitor
}

func applyVisitorPayload(visitor *models.Visitor, payload models.VisitorPayload) {
	visitor.Name = payload.Name
	visitor.DocumentID = payload.DocumentID
	visitor.Phone = payload.Phone
	visitor.VehicleType = payload.VehicleType
	visitor.VehicleBrand = payload.VehicleBrand
	visitor.VehicleColor = payload.VehicleColor
	visitor.VehiclePlate = payload.VehiclePlate
	visitor.ChassisPlate = payload.ChassisPlate
	visitor.Reason = payload.Reason
	visitor.Destination = payload.Destination
	visitor.Companions = append([]string(nil), payload.Companions...)
}
