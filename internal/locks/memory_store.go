package locks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory lock store for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[string]*Lock
	order []string
}

// NewMemoryStore creates an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]*Lock)}
}

func (m *MemoryStore) Create(ctx context.Context, lock *Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lock
	m.locks[lock.ID] = &cp
	m.order = append(m.order, lock.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lock, ok := m.locks[id]
	if !ok {
		return nil, ErrLockNotFound
	}
	cp := *lock
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, lock *Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[lock.ID]; !ok {
		return ErrLockNotFound
	}
	cp := *lock
	m.locks[lock.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Lock
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		lock := m.locks[m.order[i]]
		if lock.UserID == userID {
			cp := *lock
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Lock
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		lock := m.locks[id]
		if lock.Status == StatusActive && lock.LockedUntil != nil && !lock.LockedUntil.After(before) {
			cp := *lock
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListActiveByReference(ctx context.Context, referenceID string) ([]*Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Lock
	for _, id := range m.order {
		lock := m.locks[id]
		if lock.Status == StatusActive && lock.ReferenceID == referenceID {
			cp := *lock
			result = append(result, &cp)
		}
	}
	return result, nil
}
