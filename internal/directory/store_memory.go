package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gatepass/pkg/platform/sentinel"
)

// InMemoryStore keeps actor records in memory for tests/dev.
type InMemoryStore struct {
	mu        sync.RWMutex
	admins    map[uuid.UUID]*Admin
	residents map[uuid.UUID]*Resident
	guards    map[uuid.UUID]*Guard
	tenants   map[uuid.UUID]*Tenant
}

// NewInMemory constructs an empty in-memory directory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		admins:    make(map[uuid.UUID]*Admin),
		residents: make(map[uuid.UUID]*Resident),
		guards:    make(map[uuid.UUID]*Guard),
		tenants:   make(map[uuid.UUID]*Tenant),
	}
}

func (s *InMemoryStore) PutAdmin(a *Admin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[a.ID] = a
}

func (s *InMemoryStore) PutResident(r *Resident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.residents[r.ID] = r
}

func (s *InMemoryStore) PutGuard(g *Guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guards[g.ID] = g
}

func (s *InMemoryStore) PutTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *InMemoryStore) FindAdmin(_ context.Context, id uuid.UUID) (*Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.admins[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("admin not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindResident(_ context.Context, id uuid.UUID) (*Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.residents[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("resident not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindGuard(_ context.Context, id uuid.UUID) (*Guard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.guards[id]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("guard not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindTenant(_ context.Context, id uuid.UUID) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("tenant not found: %w", sentinel.ErrNotFound)
}
