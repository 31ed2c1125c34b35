package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/locks"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture() (*Runner, *ledger.Engine, *ledger.MemoryStore, *locks.Manager) {
	ledgerStore := ledger.NewMemoryStore()
	engine := ledger.New(ledgerStore)
	lockStore := locks.NewMemoryStore()
	manager := locks.NewManager(lockStore, engine)
	return NewRunner(ledgerStore, lockStore), engine, ledgerStore, manager
}

func TestCheckWallet_Match(t *testing.T) {
	runner, engine, _, _ := newFixture()
	ctx := context.Background()

	engine.Credit(ctx, "u1", dec("1000.00"), "topup", "t1", "")
	engine.Lock(ctx, "u1", dec("250.00"), "escrow", "l1", "")
	engine.Unlock(ctx, "u1", dec("100.00"), "escrow", "l1", "")
	engine.Debit(ctx, "u1", dec("900.00"), "withdrawal", "w1", "")
	engine.Credit(ctx, "u1", dec("75.50"), "order", "o1", "")

	result, err := runner.CheckWallet(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckWallet failed: %v", err)
	}
	if !result.Match {
		t.Errorf("expected match: %+v", result)
	}
	if result.EntriesReplayed != 5 {
		t.Errorf("entries replayed = %d, want 5", result.EntriesReplayed)
	}
}

func TestCheckWallet_EmptyWallet(t *testing.T) {
	runner, _, _, _ := newFixture()

	result, err := runner.CheckWallet(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("CheckWallet failed: %v", err)
	}
	if !result.Match || result.EntriesReplayed != 0 {
		t.Errorf("expected clean empty wallet: %+v", result)
	}
}

func TestCheckWallet_DetectsBucketDrift(t *testing.T) {
	runner, engine, store, _ := newFixture()
	ctx := context.Background()

	engine.Credit(ctx, "u1", dec("500.00"), "topup", "t1", "")

	// Corrupt the wallet: more money appears than its entry records.
	err := store.Apply(ctx, "u1", func(w *ledger.Wallet) (*ledger.Entry, error) {
		w.Available = w.Available.Add(dec("20.00"))
		return &ledger.Entry{
			ID:           "ent_forged",
			UserID:       "u1",
			Type:         ledger.EntryCredit,
			Amount:       dec("10.00"),
			BalanceAfter: w.Available,
			CreatedAt:    time.Now().UTC(),
		}, nil
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	result, err := runner.CheckWallet(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckWallet failed: %v", err)
	}
	if result.Match {
		t.Errorf("expected mismatch: %+v", result)
	}
	if result.ReplayedAvailable == result.StoredAvailable {
		t.Error("replayed available should differ from stored")
	}
}

func TestCheckWallet_DetectsBrokenBalanceAfter(t *testing.T) {
	runner, engine, store, _ := newFixture()
	ctx := context.Background()

	engine.Credit(ctx, "u1", dec("500.00"), "topup", "t1", "")

	// Buckets stay consistent but the snapshot chain lies.
	err := store.Apply(ctx, "u1", func(w *ledger.Wallet) (*ledger.Entry, error) {
		w.Available = w.Available.Add(dec("10.00"))
		return &ledger.Entry{
			ID:           "ent_badsnap",
			UserID:       "u1",
			Type:         ledger.EntryCredit,
			Amount:       dec("10.00"),
			BalanceAfter: dec("9999.00"),
			CreatedAt:    time.Now().UTC(),
		}, nil
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	result, err := runner.CheckWallet(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckWallet failed: %v", err)
	}
	if result.Match {
		t.Error("expected mismatch from broken balanceAfter chain")
	}
	if !result.BalanceAfterBroken {
		t.Error("balanceAfterBroken not flagged")
	}
}

func TestRunAll(t *testing.T) {
	runner, engine, _, manager := newFixture()
	ctx := context.Background()

	engine.Credit(ctx, "u1", dec("1000.00"), "topup", "t1", "")
	engine.Credit(ctx, "u2", dec("500.00"), "topup", "t2", "")
	engine.Lock(ctx, "u1", dec("300.00"), "escrow", "l1", "")

	result, err := runner.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if result.TotalAvailable != "1200" {
		t.Errorf("total available = %s, want 1200", result.TotalAvailable)
	}
	if result.TotalLocked != "300" {
		t.Errorf("total locked = %s, want 300", result.TotalLocked)
	}
	if result.StuckLocks != 0 {
		t.Errorf("stuck locks = %d, want 0", result.StuckLocks)
	}

	// An active hold whose expiry is long past counts as stuck.
	past := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := manager.Lock(ctx, locks.CreateRequest{
		UserID: "u2", Amount: dec("100.00"), Reason: "deal", ReferenceID: "d1", LockedUntil: &past,
	}); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	result, err = runner.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if result.StuckLocks != 1 {
		t.Errorf("stuck locks = %d, want 1", result.StuckLocks)
	}
}
