package ledger

import (
	"context"
	"sync"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
)

// InMemoryStore keeps the trail in arrival order and serves queries
// newest-first.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []domain.LedgerEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event domain.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(domain.LedgerEvent) bool { return true }), nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityID string) ([]domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(e domain.LedgerEvent) bool { return e.EntityID == entityID }), nil
}

func (s *InMemoryStore) ListByType(_ context.Context, eventType domain.LedgerEventType) ([]domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(e domain.LedgerEvent) bool { return e.Type == eventType }), nil
}

func (s *InMemoryStore) ListByMSISDN(_ context.Context, msisdn id.MSISDN) ([]domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(e domain.LedgerEvent) bool { return e.MSISDN == msisdn }), nil
}

// filtered walks the trail backwards so results come out newest-first.
// Callers hold the read lock.
func (s *InMemoryStore) filtered(keep func(domain.LedgerEvent) bool) []domain.LedgerEvent {
	out := []domain.LedgerEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		if keep(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out
}
