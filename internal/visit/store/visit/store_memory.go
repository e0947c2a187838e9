package visit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatepass/internal/visit/models"
	"gatepass/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return ErrVersionMismatch when a compare-and-swap loses a race
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryStore stores visits and visitors in memory for tests/dev. Reads
// and writes copy records so callers never alias store-internal state; that
// is what makes the optimistic-concurrency tests honest.
type InMemoryStore struct {
	mu       sync.RWMutex
	visits   map[uuid.UUID]*models.Visit
	byToken  map[string]uuid.UUID
	visitors map[uuid.UUID]*models.Visitor
}

// NewInMemory constructs an empty in-memory visit store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		visits:   make(map[uuid.UUID]*models.Visit),
		byToken:  make(map[string]uuid.UUID),
		visitors: make(map[uuid.UUID]*models.Visitor),
	}
}

func cloneVisit(v *models.Visit) *models.Visit {
	c := *v
	if v.AdminID != nil {
		id := *v.AdminID
		c.AdminID = &id
	}
	if v.ResidentID != nil {
		id := *v.ResidentID
		c.ResidentID = &id
	}
	if v.GuardID != nil {
		id := *v.GuardID
		c.GuardID = &id
	}
	if v.ExitAt != nil {
		t := *v.ExitAt
		c.ExitAt = &t
	}
	return &c
}

func cloneVisitor(v *models.Visitor) *models.Visitor {
	c := *v
	c.Companions = append([]string(nil), v.Companions...)
	return &c
}

// Create persists a visit together with its visitor record.
func (s *InMemoryStore) Create(_ context.Context, visit *models.Visit, visitor *models.Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visits[visit.ID]; ok {
		return fmt.Errorf("visit %s: %w", visit.ID, sentinel.ErrConflict)
	}
	if visit.QRToken != models.PlaceholderToken {
		if _, ok := s.byToken[visit.QRToken]; ok {
			return fmt.Errorf("token already issued: %w", sentinel.ErrConflict)
		}
		s.byToken[visit.QRToken] = visit.ID
	}
	s.visits[visit.ID] = cloneVisit(visit)
	s.visitors[visitor.ID] = cloneVisitor(visitor)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.visits[id]; ok {
		return cloneVisit(v), nil
	}
	return nil, fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byToken[token]; ok {
		return cloneVisit(s.visits[id]), nil
	}
	return nil, fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindVisitor(_ context.Context, id uuid.UUID) (*models.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.visitors[id]; ok {
		return cloneVisitor(v), nil
	}
	return nil, fmt.Errorf("visitor not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) UpdateVisitor(_ context.Context, visitor *models.Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visitors[visitor.ID]; !ok {
		return fmt.Errorf("visitor not found: %w", sentinel.ErrNotFound)
	}
	s.visitors[visitor.ID] = cloneVisitor(visitor)
	return nil
}

// UpdateCAS writes the visit only when the stored version still equals
// expectedVersion; the stored version is then bumped. This is the single
// mutation path, so two guards racing on one visit cannot both win.
func (s *InMemoryStore) UpdateCAS(_ context.Context, visit *models.Visit, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.visits[visit.ID]
	if !ok {
		return fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("visit %s at version %d, expected %d: %w",
			visit.ID, current.Version, expectedVersion, sentinel.ErrVersionMismatch)
	}
	next := cloneVisit(visit)
	next.Version = expectedVersion + 1
	if current.QRToken != next.QRToken {
		delete(s.byToken, current.QRToken)
		if next.QRToken != models.PlaceholderToken {
			s.byToken[next.QRToken] = next.ID
		}
	}
	s.visits[visit.ID] = next
	visit.Version = next.Version
	return nil
}

// Delete removes a visit and its visitor. The service only calls this for
// pending, unscanned visits.
func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[id]
	if !ok {
		return fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
	}
	delete(s.byToken, v.QRToken)
	delete(s.visitors, v.VisitorID)
	delete(s.visits, id)
	return nil
}

// ListByCreator returns the creator's visits newest-first with the total
// count for pagination.
func (s *InMemoryStore) ListByCreator(_ context.Context, kind models.CreatorKind, creatorID uuid.UUID, offset, limit int) ([]*models.Visit, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Visit
	for _, v := range s.visits {
		switch kind {
		case models.CreatorAdmin:
			if v.AdminID == nil || *v.AdminID != creatorID {
				continue
			}
		case models.CreatorResident:
			if v.ResidentID == nil || *v.ResidentID != creatorID {
				continue
			}
		default:
			continue
		}
		matched = append(matched, cloneVisit(v))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ScheduledEntry.After(matched[j].ScheduledEntry)
	})
	return paginate(matched, offset, limit), len(matched), nil
}

// ListRequested returns visits awaiting administrator approval, oldest first.
func (s *InMemoryStore) ListRequested(_ context.Context) ([]*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Visit
	for _, v := range s.visits {
		if v.State == models.StateRequested {
			matched = append(matched, cloneVisit(v))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ScheduledEntry.Before(matched[j].ScheduledEntry)
	})
	return matched, nil
}

// ExpireDue flips every expirable visit past its expiration to expired and
// returns the flipped records. Versions are bumped so any in-flight CAS from
// a concurrent scan loses cleanly.
func (s *InMemoryStore) ExpireDue(_ context.Context, now time.Time) ([]*models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped []*models.Visit
	for _, v := range s.visits {
		if v.State.Expirable() && now.After(v.QRExpiresAt) {
			v.State = models.StateExpired
			v.UpdatedAt = now
			v.Version++
			flipped = append(flipped, cloneVisit(v))
		}
	}
	return flipped, nil
}

func paginate(visits []*models.Visit, offset, limit int) []*models.Visit {
	if offset >= len(visits) {
		return nil
	}
	end := len(visits)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return visits[offset:end]
}
