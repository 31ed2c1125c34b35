package settlement

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory settlement store for demo/development mode.
type MemoryStore struct {
	mu          sync.RWMutex
	settlements map[string]*Settlement
	order       []string
}

// NewMemoryStore creates an empty in-memory settlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settlements: make(map[string]*Settlement)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settlements[s.ID] = &cp
	m.order = append(m.order, s.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settlements[s.ID]; !ok {
		return ErrSettlementNotFound
	}
	cp := *s
	m.settlements[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Settlement
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		s := m.settlements[m.order[i]]
		if s.SellerID == sellerID {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Settlement
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		s := m.settlements[id]
		if s.Status == StatusScheduled && !s.ScheduledDate.After(before) {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}
