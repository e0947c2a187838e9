package service

import (
	"context"

	"gatepass/internal/qr"
	"gatepass/internal/visit/models"
	scanstore "gatepass/internal/visit/store/scan"
	dErrors "gatepass/pkg/domain-errors"
)

// ScanHistoryEntry enriches a scan event with the visit and visitor it acted
// on, for the guard dashboard.
type ScanHistoryEntry struct {
	Event   *models.ScanEvent `json:"event"`
	Visit   *models.Visit     `json:"visit"`
	Visitor *models.Visitor   `json:"visitor"`
}

// History pages through the scan log, newest first.
func (s *Service) History(ctx context.Context, filter scanstore.HistoryFilter) ([]*ScanHistoryEntry, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	events, total, err := s.scans.History(ctx, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load scan history")
	}
	entries := make([]*ScanHistoryEntry, 0, len(events))
	for _, event := range events {
		entry := &ScanHistoryEntry{Event: event}
		// The scan log outlives nothing (visits with scans are never
		// deleted), but tolerate a missing row instead of failing the page.
		if visit, err := s.visits.FindByID(ctx, event.VisitID); err == nil {
			entry.Visit = visit
			if visitor, err := s.visits.FindVisitor(ctx, visit.VisitorID); err == nil {
				entry.Visitor = visitor
			}
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

func qrImage(token string) (string, error) {
	image, err := qr.RenderPNG(token, qrImageSize)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to render QR image")
	}
	return image, nil
}
