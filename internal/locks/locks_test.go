package locks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestManager() (*Manager, *ledger.Engine) {
	engine := ledger.New(ledger.NewMemoryStore())
	return NewManager(NewMemoryStore(), engine), engine
}

func fund(t *testing.T, engine *ledger.Engine, userID, amount string) {
	t.Helper()
	if _, err := engine.Credit(context.Background(), userID, dec(amount), "topup", "t1", ""); err != nil {
		t.Fatalf("funding %s failed: %v", userID, err)
	}
}

func balance(t *testing.T, engine *ledger.Engine, userID string) *ledger.Wallet {
	t.Helper()
	w, err := engine.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	return w
}

func TestManager_LockAndRelease(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "1000.00")

	lock, err := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("400.00"), Reason: "deal", ReferenceID: "deal_1",
	})
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if lock.Status != StatusActive {
		t.Errorf("Expected status active, got %s", lock.Status)
	}

	w := balance(t, engine, "buyer_1")
	if !w.Available.Equal(dec("600.00")) || !w.Locked.Equal(dec("400.00")) {
		t.Fatalf("After lock: available=%s locked=%s", w.Available, w.Locked)
	}

	released, err := manager.Release(ctx, lock.ID, "deal confirmed")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released.Status != StatusReleased {
		t.Errorf("Expected status released, got %s", released.Status)
	}

	w = balance(t, engine, "buyer_1")
	if !w.Available.Equal(dec("1000.00")) || !w.Locked.Equal(decimal.Zero) {
		t.Errorf("After release: available=%s locked=%s", w.Available, w.Locked)
	}
}

func TestManager_LockInsufficientFunds(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "100.00")

	_, err := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("150.00"), Reason: "deal",
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}

	// Nothing locked, no record written.
	w := balance(t, engine, "buyer_1")
	if !w.Available.Equal(dec("100.00")) || !w.Locked.Equal(decimal.Zero) {
		t.Errorf("Wallet mutated: available=%s locked=%s", w.Available, w.Locked)
	}
	result, _ := manager.ListByUser(ctx, "buyer_1", 10)
	if len(result) != 0 {
		t.Errorf("Expected no lock records, got %d", len(result))
	}
}

func TestManager_ReleaseNotActive(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "100.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("50.00"), Reason: "deal"})
	manager.Release(ctx, lock.ID, "done")

	_, err := manager.Release(ctx, lock.ID, "again")
	if !errors.Is(err, ErrLockNotActive) {
		t.Errorf("Expected ErrLockNotActive, got %v", err)
	}
}

func TestManager_ReleaseUnknown(t *testing.T) {
	manager, _ := newTestManager()

	_, err := manager.Release(context.Background(), "lck_missing", "oops")
	if !errors.Is(err, ErrLockNotFound) {
		t.Errorf("Expected ErrLockNotFound, got %v", err)
	}
}

func TestManager_SweepExpired(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "300.00")

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	expired, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("100.00"), Reason: "deal", LockedUntil: &past,
	})
	fresh, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("100.00"), Reason: "deal", LockedUntil: &future,
	})
	open, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("100.00"), Reason: "deal",
	})

	released, failed := manager.SweepExpired(ctx, time.Now().UTC())
	if released != 1 || len(failed) != 0 {
		t.Fatalf("SweepExpired: released=%d failed=%v", released, failed)
	}

	got, _ := manager.Get(ctx, expired.ID)
	if got.Status != StatusReleased || got.ReleaseReason != "automatic expiration" {
		t.Errorf("Expired lock: status=%s reason=%q", got.Status, got.ReleaseReason)
	}
	for _, id := range []string{fresh.ID, open.ID} {
		got, _ := manager.Get(ctx, id)
		if got.Status != StatusActive {
			t.Errorf("Lock %s swept early: %s", id, got.Status)
		}
	}

	w := balance(t, engine, "buyer_1")
	if !w.Locked.Equal(dec("200.00")) {
		t.Errorf("Expected 200.00 still locked, got %s", w.Locked)
	}
}

func TestManager_SweepIsolatesFailures(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "200.00")

	past := time.Now().UTC().Add(-time.Minute)
	first, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("100.00"), Reason: "deal", LockedUntil: &past,
	})
	second, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("100.00"), Reason: "deal", LockedUntil: &past,
	})

	// Drain half the locked balance behind the manager's back so one
	// of the two releases fails at the ledger.
	if _, err := engine.Unlock(ctx, "buyer_1", dec("100.00"), "escrow", second.ID, ""); err != nil {
		t.Fatalf("setup unlock failed: %v", err)
	}
	if _, err := engine.Debit(ctx, "buyer_1", dec("100.00"), "drain", "d1", ""); err != nil {
		t.Fatalf("setup debit failed: %v", err)
	}

	released, failed := manager.SweepExpired(ctx, time.Now().UTC())
	if released != 1 {
		t.Errorf("Expected 1 release despite failure, got %d", released)
	}
	if len(failed) != 1 || failed[0] != second.ID {
		t.Errorf("Expected second lock to fail, got %v", failed)
	}

	got, _ := manager.Get(ctx, first.ID)
	if got.Status != StatusReleased {
		t.Errorf("Healthy lock not swept: %s", got.Status)
	}
	got, _ = manager.Get(ctx, second.ID)
	if got.Status != StatusActive {
		t.Errorf("Failed lock should stay active: %s", got.Status)
	}
}

// brokenListStore delegates to a memory store but fails ListExpired.
type brokenListStore struct {
	*MemoryStore
}

func (s *brokenListStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Lock, error) {
	return nil, errors.New("store unavailable")
}

func TestManager_SweepReportsListFailure(t *testing.T) {
	engine := ledger.New(ledger.NewMemoryStore())
	var buf bytes.Buffer
	manager := NewManager(&brokenListStore{MemoryStore: NewMemoryStore()}, engine).
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	released, failed := manager.SweepExpired(context.Background(), time.Now().UTC())
	if released != 0 || failed != nil {
		t.Errorf("SweepExpired = %d, %v, want 0, nil", released, failed)
	}
	if !strings.Contains(buf.String(), "failed to list expired locks") {
		t.Errorf("list failure not logged, got %q", buf.String())
	}
}

func TestManager_CheckAutomaticRelease(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "500.00")

	l1, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("100.00"), Reason: "deal", ReferenceID: "deal_9",
	})
	l2, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("150.00"), Reason: "deal", ReferenceID: "deal_9",
	})
	other, _ := manager.Lock(ctx, CreateRequest{
		UserID: "buyer_1", Amount: dec("50.00"), Reason: "deal", ReferenceID: "deal_10",
	})

	released, err := manager.CheckAutomaticRelease(ctx, "deal_9", ConditionOrderCompleted)
	if err != nil {
		t.Fatalf("CheckAutomaticRelease failed: %v", err)
	}
	if released != 2 {
		t.Errorf("Expected 2 releases, got %d", released)
	}

	for _, id := range []string{l1.ID, l2.ID} {
		got, _ := manager.Get(ctx, id)
		if got.Status != StatusReleased {
			t.Errorf("Lock %s not released: %s", id, got.Status)
		}
	}
	got, _ := manager.Get(ctx, other.ID)
	if got.Status != StatusActive {
		t.Errorf("Unrelated lock released: %s", got.Status)
	}
}

func TestManager_CheckAutomaticReleaseBadCondition(t *testing.T) {
	manager, _ := newTestManager()

	_, err := manager.CheckAutomaticRelease(context.Background(), "deal_9", "order_shipped")
	if !errors.Is(err, ErrInvalidCondition) {
		t.Errorf("Expected ErrInvalidCondition, got %v", err)
	}
}

func TestManager_DisputeLifecycle(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "1000.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("1000.00"), Reason: "deal"})

	disputed, err := manager.MarkDisputed(ctx, lock.ID)
	if err != nil {
		t.Fatalf("MarkDisputed failed: %v", err)
	}
	if disputed.Status != StatusDisputed {
		t.Errorf("Expected disputed, got %s", disputed.Status)
	}

	// A disputed lock cannot be released through the normal path.
	if _, err := manager.Release(ctx, lock.ID, "nope"); !errors.Is(err, ErrLockNotActive) {
		t.Errorf("Expected ErrLockNotActive, got %v", err)
	}
	// Nor disputed twice.
	if _, err := manager.MarkDisputed(ctx, lock.ID); !errors.Is(err, ErrLockNotActive) {
		t.Errorf("Expected ErrLockNotActive on double dispute, got %v", err)
	}

	resolved, err := manager.ResolveRelease(ctx, lock.ID, "buyer wins")
	if err != nil {
		t.Fatalf("ResolveRelease failed: %v", err)
	}
	if resolved.Status != StatusReleased {
		t.Errorf("Expected released, got %s", resolved.Status)
	}

	w := balance(t, engine, "buyer_1")
	if !w.Available.Equal(dec("1000.00")) || !w.Locked.Equal(decimal.Zero) {
		t.Errorf("After resolution: available=%s locked=%s", w.Available, w.Locked)
	}
}

func TestManager_ResolveToCounterparty(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "1000.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("600.00"), Reason: "deal"})
	manager.MarkDisputed(ctx, lock.ID)

	resolved, err := manager.ResolveToCounterparty(ctx, lock.ID, "seller_1", "seller wins")
	if err != nil {
		t.Fatalf("ResolveToCounterparty failed: %v", err)
	}
	if resolved.Status != StatusReleased {
		t.Errorf("Expected released, got %s", resolved.Status)
	}

	buyer := balance(t, engine, "buyer_1")
	seller := balance(t, engine, "seller_1")
	if !buyer.Available.Equal(dec("400.00")) || !buyer.Locked.Equal(decimal.Zero) {
		t.Errorf("Buyer: available=%s locked=%s", buyer.Available, buyer.Locked)
	}
	if !seller.Available.Equal(dec("600.00")) {
		t.Errorf("Seller: available=%s", seller.Available)
	}
}

func TestManager_ResolvePartial(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "1000.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("1000.00"), Reason: "deal"})
	manager.MarkDisputed(ctx, lock.ID)

	resolved, err := manager.ResolvePartial(ctx, lock.ID, "seller_1", dec("300.00"), dec("700.00"), "split")
	if err != nil {
		t.Fatalf("ResolvePartial failed: %v", err)
	}
	if resolved.Status != StatusPartiallyReleased {
		t.Errorf("Expected partially_released, got %s", resolved.Status)
	}

	buyer := balance(t, engine, "buyer_1")
	seller := balance(t, engine, "seller_1")
	if !buyer.Available.Equal(dec("300.00")) || !buyer.Locked.Equal(decimal.Zero) {
		t.Errorf("Buyer: available=%s locked=%s", buyer.Available, buyer.Locked)
	}
	if !seller.Available.Equal(dec("700.00")) {
		t.Errorf("Seller: available=%s", seller.Available)
	}
}

func TestManager_ResolvePartialExceedsLock(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "1000.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("1000.00"), Reason: "deal"})
	manager.MarkDisputed(ctx, lock.ID)

	_, err := manager.ResolvePartial(ctx, lock.ID, "seller_1", dec("400.00"), dec("700.00"), "split")
	if !errors.Is(err, ErrAmountExceedsLock) {
		t.Errorf("Expected ErrAmountExceedsLock, got %v", err)
	}

	// Funds stay frozen.
	w := balance(t, engine, "buyer_1")
	if !w.Locked.Equal(dec("1000.00")) {
		t.Errorf("Locked balance moved: %s", w.Locked)
	}
	got, _ := manager.Get(ctx, lock.ID)
	if got.Status != StatusDisputed {
		t.Errorf("Lock status moved: %s", got.Status)
	}
}

func TestManager_ResolvePartialRemainderReturnsToOwner(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "1000.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("1000.00"), Reason: "deal"})
	manager.MarkDisputed(ctx, lock.ID)

	// 200 to buyer, 500 to seller, 300 undistributed.
	if _, err := manager.ResolvePartial(ctx, lock.ID, "seller_1", dec("200.00"), dec("500.00"), "split"); err != nil {
		t.Fatalf("ResolvePartial failed: %v", err)
	}

	buyer := balance(t, engine, "buyer_1")
	seller := balance(t, engine, "seller_1")
	if !buyer.Available.Equal(dec("500.00")) || !buyer.Locked.Equal(decimal.Zero) {
		t.Errorf("Buyer: available=%s locked=%s", buyer.Available, buyer.Locked)
	}
	if !seller.Available.Equal(dec("500.00")) {
		t.Errorf("Seller: available=%s", seller.Available)
	}
}

func TestManager_HoldFunds(t *testing.T) {
	manager, engine := newTestManager()
	ctx := context.Background()

	fund(t, engine, "buyer_1", "500.00")
	lock, _ := manager.Lock(ctx, CreateRequest{UserID: "buyer_1", Amount: dec("500.00"), Reason: "deal"})
	manager.MarkDisputed(ctx, lock.ID)

	held, err := manager.HoldFunds(ctx, lock.ID, "pending investigation")
	if err != nil {
		t.Fatalf("HoldFunds failed: %v", err)
	}
	if held.Status != StatusHeld {
		t.Errorf("Expected held, got %s", held.Status)
	}

	// No balance movement.
	w := balance(t, engine, "buyer_1")
	if !w.Available.Equal(decimal.Zero) || !w.Locked.Equal(dec("500.00")) {
		t.Errorf("Balances moved: available=%s locked=%s", w.Available, w.Locked)
	}
}
