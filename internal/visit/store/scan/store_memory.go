package scan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatepass/internal/visit/models"
)

// InMemoryStore keeps scan events and evidence photos in memory for
// tests/dev. Events are append-only; nothing here ever mutates or deletes
// a recorded scan.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []*models.ScanEvent
	photos map[uuid.UUID][]*models.EvidencePhoto
}

// NewInMemory constructs an empty in-memory scan store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		photos: make(map[uuid.UUID][]*models.EvidencePhoto),
	}
}

func (s *InMemoryStore) Append(_ context.Context, event *models.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *InMemoryStore) AddPhotos(_ context.Context, photos []*models.EvidencePhoto) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range photos {
		copied := *p
		s.photos[p.VisitID] = append(s.photos[p.VisitID], &copied)
	}
	return nil
}

func (s *InMemoryStore) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*models.ScanEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.ScanEvent
	for _, e := range s.events {
		if e.VisitID == visitID {
			copied := *e
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].At.Before(matched[j].At) })
	return matched, nil
}

func (s *InMemoryStore) PhotosByVisit(_ context.Context, visitID uuid.UUID) ([]*models.EvidencePhoto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EvidencePhoto
	for _, p := range s.photos[visitID] {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

// HistoryFilter narrows scan history queries. Zero values mean "no filter".
type HistoryFilter struct {
	GuardID *uuid.UUID
	Kind    models.ScanKind
	From    time.Time
	To      time.Time
	Offset  int
	Limit   int
}

// History returns scan events newest-first with the unfiltered total for
// pagination.
func (s *InMemoryStore) History(_ context.Context, filter HistoryFilter) ([]*models.ScanEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.ScanEvent
	for _, e := range s.events {
		if filter.GuardID != nil && e.GuardID != *filter.GuardID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.From.IsZero() && e.At.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.At.Before(filter.To) {
			continue
		}
		copied := *e
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].At.After(matched[j].At) })
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}
