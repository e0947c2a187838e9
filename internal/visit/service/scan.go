package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gatepass/internal/notify"
	"gatepass/internal/qr"
	"gatepass/internal/visit/models"
	dErrors "gatepass/pkg/domain-errors"
	"gatepass/pkg/platform/sentinel"
)

// ScanEntry arbitrates a guard's entry scan. Decode-then-lookup-by-id is
// authoritative: the token must decode under our keys AND match the stored
// value byte for byte, so a tampered stored string is as detectable as a
// tampered QR. All decode failures collapse to "not recognized" so callers
// cannot probe which check failed.
func (s *Service) ScanEntry(ctx context.Context, guardID uuid.UUID, device string, req models.ScanEntryRequest) (*ScanOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "visit.scan_entry")
	defer span.End()
	started := s.now()

	outcome, err := s.scanEntry(ctx, span, guardID, device, req)
	s.observeScan(models.ScanEntry, outcome, err, started)
	return outcome, err
}

func (s *Service) scanEntry(ctx context.Context, span trace.Span, guardID uuid.UUID, device string, req models.ScanEntryRequest) (*ScanOutcome, error) {
	visit, err := s.resolveScannedVisit(ctx, req.QR)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("visit.id", visit.ID.String()))

	guard, err := s.loadGuard(ctx, guardID)
	if err != nil {
		return nil, err
	}
	// Tenant isolation precedes every other check, expiration included.
	if err := s.requireSameTenant(ctx, guard, visit); err != nil {
		return nil, err
	}

	now := s.localNow()
	if visit.PastExpiration(now) {
		return nil, s.expireOnTouch(ctx, visit)
	}
	if err := visit.CanScanEntry(); err != nil {
		return nil, err
	}

	action, err := models.ParseScanAction(req.Action, s.defaultAction)
	if err != nil {
		return nil, err
	}
	if err := visit.ApplyEntryScan(action, guardID, req.Observation, s.now()); err != nil {
		return nil, err
	}
	if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			return nil, s.loseScanRace(ctx, visit.ID, models.ScanEntry)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record entry scan")
	}

	s.recordScan(ctx, visit, guardID, models.ScanEntry, device, req.Photos)

	visitor, err := s.loadVisitor(ctx, visit.VisitorID)
	if err != nil {
		return nil, err
	}
	outcome := &ScanOutcome{
		Visit:        visit,
		Visitor:      visitor,
		EarlyArrival: now.Before(visit.ScheduledEntry),
	}
	if outcome.EarlyArrival {
		outcome.Warnings = append(outcome.Warnings, "visitor arrived before the scheduled entry time")
	}

	s.emit(notify.Event{
		Kind:      notify.EventEntryScanned,
		VisitID:   visit.ID,
		ActorID:   guardID,
		ActorRole: "guard",
		Detail:    string(action),
	})
	return outcome, nil
}

// ScanExit records the visitor leaving. Only approved visits may exit; an
// exit after the token expiration still completes the visit, flagged as a
// late departure, so the gate never traps a visitor inside.
func (s *Service) ScanExit(ctx context.Context, guardID uuid.UUID, device string, req models.ScanExitRequest) (*ScanOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "visit.scan_exit")
	defer span.End()
	started := s.now()

	outcome, err := s.scanExit(ctx, span, guardID, device, req)
	s.observeScan(models.ScanExit, outcome, err, started)
	return outcome, err
}

func (s *Service) scanExit(ctx context.Context, span trace.Span, guardID uuid.UUID, device string, req models.ScanExitRequest) (*ScanOutcome, error) {
	visit, err := s.resolveScannedVisit(ctx, req.QR)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("visit.id", visit.ID.String()))

	guard, err := s.loadGuard(ctx, guardID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSameTenant(ctx, guard, visit); err != nil {
		return nil, err
	}
	if err := visit.CanScanExit(); err != nil {
		return nil, err
	}

	now := s.localNow()
	lateDeparture := visit.PastExpiration(now)
	if err := visit.ApplyExitScan(guardID, req.Observation, s.now()); err != nil {
		return nil, err
	}
	if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			return nil, s.loseScanRace(ctx, visit.ID, models.ScanExit)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record exit scan")
	}

	s.recordScan(ctx, visit, guardID, models.ScanExit, device, req.Photos)

	visitor, err := s.loadVisitor(ctx, visit.VisitorID)
	if err != nil {
		return nil, err
	}
	outcome := &ScanOutcome{
		Visit:         visit,
		Visitor:       visitor,
		LateDeparture: lateDeparture,
	}
	if lateDeparture {
		outcome.Warnings = append(outcome.Warnings, "visitor left after the QR expiration")
	}

	s.emit(notify.Event{
		Kind:      notify.EventExitScanned,
		VisitID:   visit.ID,
		ActorID:   guardID,
		ActorRole: "guard",
	})
	return outcome, nil
}

// resolveScannedVisit turns a raw QR string into the authoritative visit
// record, or a typed error the guard UI can render.
func (s *Service) resolveScannedVisit(ctx context.Context, raw string) (*models.Visit, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "QR code must not be empty")
	}
	visitID, _, err := s.codec.Decode(token)
	if err != nil {
		if errors.Is(err, qr.ErrMalformed) {
			return nil, dErrors.New(dErrors.CodeTokenMalformed, "QR code not recognized")
		}
		return nil, dErrors.New(dErrors.CodeTokenNotRecognized, "QR code not recognized")
	}
	visit, err := s.visits.FindByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeTokenNotRecognized, "QR code not recognized")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve scanned visit")
	}
	// A decodable token whose stored value differs was tampered with or
	// reissued; treat it exactly like an unknown token.
	if visit.QRToken != token {
		return nil, dErrors.New(dErrors.CodeTokenNotRecognized, "QR code not recognized")
	}
	return visit, nil
}

// expireOnTouch commits the expired transition detected during a scan. The
// scan itself fails, but the state change sticks: expiration detection is a
// side effect of any touch.
func (s *Service) expireOnTouch(ctx context.Context, visit *models.Visit) error {
	if visit.ApplyExpiration(s.now()) {
		if err := s.visits.UpdateCAS(ctx, visit, visit.Version); err != nil {
			// A sweep or concurrent scan already flipped it; the guard
			// still sees the expiration.
			if !errors.Is(err, sentinel.ErrVersionMismatch) {
				s.logger.Error("failed to commit lazy expiration",
					"visit_id", visit.ID, "error", err)
			}
		} else {
			s.emit(notify.Event{
				Kind:    notify.EventVisitExpired,
				VisitID: visit.ID,
			})
			if s.metrics != nil {
				s.metrics.IncrementVisitsExpired()
			}
		}
	}
	return dErrors.New(dErrors.CodeExpired, "QR code has expired")
}

// loseScanRace disambiguates a lost compare-and-swap: if another guard's
// scan landed first the caller gets the specific conflict for the state
// they lost to, otherwise a retryable concurrent-modification error.
func (s *Service) loseScanRace(ctx context.Context, visitID uuid.UUID, kind models.ScanKind) error {
	current, err := s.visits.FindByID(ctx, visitID)
	if err != nil {
		return dErrors.New(dErrors.CodeConcurrentModification, "visit was modified concurrently, retry")
	}
	var conflict error
	if kind == models.ScanEntry {
		conflict = current.CanScanEntry()
	} else {
		conflict = current.CanScanExit()
	}
	if conflict != nil {
		return conflict
	}
	return dErrors.New(dErrors.CodeConcurrentModification, "visit was modified concurrently, retry")
}

// recordScan appends the audit row and photos. Failures here are logged,
// not surfaced: the transition is already committed and must not unwind.
func (s *Service) recordScan(ctx context.Context, visit *models.Visit, guardID uuid.UUID, kind models.ScanKind, device string, photos []string) {
	event := &models.ScanEvent{
		ID:      uuid.New(),
		VisitID: visit.ID,
		GuardID: guardID,
		Kind:    kind,
		Device:  device,
		At:      s.now(),
	}
	if err := s.scans.Append(ctx, event); err != nil {
		s.logger.Error("failed to append scan event",
			"visit_id", visit.ID, "kind", kind, "error", err)
	}
	if len(photos) == 0 {
		return
	}
	records := make([]*models.EvidencePhoto, 0, len(photos))
	for _, url := range photos {
		records = append(records, &models.EvidencePhoto{
			ID:      uuid.New(),
			VisitID: visit.ID,
			Kind:    kind,
			URL:     url,
			AddedAt: s.now(),
		})
	}
	if err := s.scans.AddPhotos(ctx, records); err != nil {
		s.logger.Error("failed to store evidence photos",
			"visit_id", visit.ID, "kind", kind, "error", err)
	}
}

func (s *Service) observeScan(kind models.ScanKind, outcome *ScanOutcome, err error, started time.Time) {
	if s.metrics == nil {
		return
	}
	label := "success"
	if err != nil {
		label = string(dErrors.CodeOf(err))
	} else if outcome != nil && outcome.Visit.State == models.StateRejected {
		label = "rejected"
	}
	s.metrics.ObserveScan(string(kind), label, s.now().Sub(started))
}
