package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/pagination"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
// Per-wallet exclusion uses one mutex per user id, mirroring the row
// locks of the Postgres store.
type MemoryStore struct {
	mu          sync.RWMutex
	wallets     map[string]*Wallet
	entries     []*Entry
	walletLocks sync.Map // userID -> *sync.Mutex
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
	}
}

func (m *MemoryStore) walletLock(userID string) *sync.Mutex {
	v, _ := m.walletLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *MemoryStore) snapshot(userID string) *Wallet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp
	}
	now := time.Now().UTC()
	return &Wallet{
		UserID:    userID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		Negative:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *MemoryStore) commit(w *Wallet, entries ...*Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.UpdatedAt = time.Now().UTC()
	m.wallets[w.UserID] = w
	m.entries = append(m.entries, entries...)
}

func (m *MemoryStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	return m.snapshot(userID), nil
}

func (m *MemoryStore) Apply(ctx context.Context, userID string, fn func(w *Wallet) (*Entry, error)) error {
	mu := m.walletLock(userID)
	mu.Lock()
	defer mu.Unlock()

	w := m.snapshot(userID)
	entry, err := fn(w)
	if err != nil {
		return err
	}
	m.commit(w, entry)
	return nil
}

func (m *MemoryStore) ApplyTransfer(ctx context.Context, fromUserID, toUserID string, fn func(from, to *Wallet) ([]*Entry, error)) error {
	// Canonical lock order prevents deadlock between opposing transfers.
	first, second := fromUserID, toUserID
	if second < first {
		first, second = second, first
	}
	firstMu := m.walletLock(first)
	firstMu.Lock()
	defer firstMu.Unlock()
	secondMu := m.walletLock(second)
	secondMu.Lock()
	defer secondMu.Unlock()

	from := m.snapshot(fromUserID)
	to := m.snapshot(toUserID)
	entries, err := fn(from, to)
	if err != nil {
		return err
	}
	m.commit(from)
	m.commit(to, entries...)
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Entries are appended in commit order, so newest-first is a
	// reverse walk.
	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListEntriesPage(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.UserID != userID {
			continue
		}
		if before != nil && !olderThanCursor(e, before) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// olderThanCursor reports whether e sorts strictly after the cursor in
// newest-first order, ties on timestamp broken by id.
func olderThanCursor(e *Entry, c *pagination.Cursor) bool {
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return e.CreatedAt.Equal(c.CreatedAt) && e.ID < c.ID
}

func (m *MemoryStore) FindEntryByReference(ctx context.Context, referenceType, referenceID string, entryType EntryType) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.ReferenceType == referenceType && e.ReferenceID == referenceID && e.Type == entryType {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SumBalances(ctx context.Context) (available, locked, negative decimal.Decimal, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	available, locked, negative = decimal.Zero, decimal.Zero, decimal.Zero
	for _, w := range m.wallets {
		available = available.Add(w.Available)
		locked = locked.Add(w.Locked)
		negative = negative.Add(w.Negative)
	}
	return available, locked, negative, nil
}
