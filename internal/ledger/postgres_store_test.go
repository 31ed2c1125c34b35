//go:build integration

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgresStore_ApplyRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	engine := New(store)
	ctx := context.Background()

	if _, err := engine.Credit(ctx, "pg_user_1", dec("250.00"), "topup", "t1", "initial"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if _, err := engine.Lock(ctx, "pg_user_1", dec("100.00"), "escrow", "l1", ""); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	w, err := store.GetWallet(ctx, "pg_user_1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !w.Available.Equal(dec("150.00")) || !w.Locked.Equal(dec("100.00")) {
		t.Errorf("Wallet: available=%s locked=%s", w.Available, w.Locked)
	}

	entries, err := store.ListEntries(ctx, "pg_user_1", 10)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(entries))
	}
}

func TestPostgresStore_GetWalletMissing(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	w, err := store.GetWallet(context.Background(), "pg_nobody")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !w.Available.Equal(decimal.Zero) || !w.Locked.Equal(decimal.Zero) || !w.Negative.Equal(decimal.Zero) {
		t.Errorf("Expected zero wallet, got %+v", w)
	}
}

func TestPostgresStore_FindEntryByReference(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	engine := New(store)
	ctx := context.Background()

	engine.Credit(ctx, "pg_user_2", dec("50.00"), "order", "ord_42", "")

	entry, err := store.FindEntryByReference(ctx, "order", "ord_42", EntryCredit)
	if err != nil {
		t.Fatalf("FindEntryByReference failed: %v", err)
	}
	if entry == nil || !entry.Amount.Equal(dec("50.00")) {
		t.Errorf("Expected credit entry of 50.00, got %+v", entry)
	}

	entry, err = store.FindEntryByReference(ctx, "order", "ord_missing", EntryCredit)
	if err != nil {
		t.Fatalf("FindEntryByReference failed: %v", err)
	}
	if entry != nil {
		t.Errorf("Expected nil for missing reference, got %+v", entry)
	}
}

func TestPostgresStore_ConcurrentTransfers(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	engine := New(store)
	ctx := context.Background()

	engine.Credit(ctx, "pg_a", dec("500.00"), "topup", "t1", "")
	engine.Credit(ctx, "pg_b", dec("500.00"), "topup", "t2", "")

	// Opposing transfers exercise the canonical row lock order.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine.Transfer(ctx, "pg_a", "pg_b", dec("10.00"), "settlement", "s1", "")
		}()
		go func() {
			defer wg.Done()
			engine.Transfer(ctx, "pg_b", "pg_a", dec("10.00"), "settlement", "s2", "")
		}()
	}
	wg.Wait()

	available, locked, negative, err := store.SumBalances(ctx)
	if err != nil {
		t.Fatalf("SumBalances failed: %v", err)
	}
	if !available.Equal(dec("1000.00")) || !locked.Equal(decimal.Zero) || !negative.Equal(decimal.Zero) {
		t.Errorf("Totals drifted: available=%s locked=%s negative=%s", available, locked, negative)
	}
}
