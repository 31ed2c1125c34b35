package withdrawal

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory withdrawal store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
	order    []string
}

// NewMemoryStore creates an empty in-memory withdrawal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	m.order = append(m.order, r.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByGatewayTransferID(ctx context.Context, transferID string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.GatewayTransferID != "" && r.GatewayTransferID == transferID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrWithdrawalNotFound
}

func (m *MemoryStore) Update(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return ErrWithdrawalNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		r := m.requests[m.order[i]]
		if r.UserID == userID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) SumRequestedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, r := range m.requests {
		if r.UserID != userID || r.Status == StatusFailed {
			continue
		}
		if r.CreatedAt.Before(since) {
			continue
		}
		total = total.Add(r.Amount)
	}
	return total, nil
}
