// Package reconciliation audits wallet buckets against the ledger
// entry log and flags escrow holds that should have been swept.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/locks"
)

// LedgerAuditor is the read-only slice of the ledger store the runner
// needs. Satisfied by both ledger store implementations.
type LedgerAuditor interface {
	GetWallet(ctx context.Context, userID string) (*ledger.Wallet, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]*ledger.Entry, error)
	SumBalances(ctx context.Context) (available, locked, negative decimal.Decimal, err error)
}

// LockAuditor surfaces expired holds that are still active.
type LockAuditor interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*locks.Lock, error)
}

// WalletResult is the outcome of replaying one wallet's entry log.
type WalletResult struct {
	UserID             string `json:"userId"`
	Match              bool   `json:"match"`
	StoredAvailable    string `json:"storedAvailable"`
	StoredLocked       string `json:"storedLocked"`
	StoredNegative     string `json:"storedNegative"`
	ReplayedAvailable  string `json:"replayedAvailable"`
	ReplayedLocked     string `json:"replayedLocked"`
	ReplayedNegative   string `json:"replayedNegative"`
	EntriesReplayed    int    `json:"entriesReplayed"`
	BalanceAfterBroken bool   `json:"balanceAfterBroken"`
}

// Result is the outcome of a full reconciliation run.
type Result struct {
	TotalAvailable string `json:"totalAvailable"`
	TotalLocked    string `json:"totalLocked"`
	TotalNegative  string `json:"totalNegative"`
	StuckLocks     int    `json:"stuckLocks"`
	RanAt          string `json:"ranAt"`
}

// Runner performs reconciliation checks.
type Runner struct {
	ledger      LedgerAuditor
	locks       LockAuditor
	replayLimit int
}

// NewRunner creates a reconciliation runner.
func NewRunner(ledgerStore LedgerAuditor, lockStore LockAuditor) *Runner {
	return &Runner{
		ledger:      ledgerStore,
		locks:       lockStore,
		replayLimit: 10000,
	}
}

// CheckWallet replays a wallet's entries oldest-first against fresh
// bucket accumulators and compares the result with the stored wallet.
// Each entry's balanceAfter is also checked against the replayed
// available balance at that point.
func (r *Runner) CheckWallet(ctx context.Context, userID string) (*WalletResult, error) {
	wallet, err := r.ledger.GetWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	entries, err := r.ledger.ListEntries(ctx, userID, r.replayLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	available, locked, negative := decimal.Zero, decimal.Zero, decimal.Zero
	chainBroken := false
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Type {
		case ledger.EntryCredit:
			offset := decimal.Min(e.Amount, negative)
			negative = negative.Sub(offset)
			available = available.Add(e.Amount.Sub(offset))
		case ledger.EntryDebit:
			mag := e.Amount.Neg()
			if available.GreaterThanOrEqual(mag) {
				available = available.Sub(mag)
			} else {
				negative = negative.Add(mag.Sub(available))
				available = decimal.Zero
			}
		case ledger.EntryLock:
			available = available.Sub(e.Amount)
			locked = locked.Add(e.Amount)
		case ledger.EntryUnlock:
			locked = locked.Sub(e.Amount)
			available = available.Add(e.Amount)
		}
		if !e.BalanceAfter.Equal(available) {
			chainBroken = true
		}
	}

	match := available.Equal(wallet.Available) &&
		locked.Equal(wallet.Locked) &&
		negative.Equal(wallet.Negative) &&
		!chainBroken
	if !match {
		walletMismatches.Inc()
	}

	return &WalletResult{
		UserID:             userID,
		Match:              match,
		StoredAvailable:    wallet.Available.String(),
		StoredLocked:       wallet.Locked.String(),
		StoredNegative:     wallet.Negative.String(),
		ReplayedAvailable:  available.String(),
		ReplayedLocked:     locked.String(),
		ReplayedNegative:   negative.String(),
		EntriesReplayed:    len(entries),
		BalanceAfterBroken: chainBroken,
	}, nil
}

// RunAll reports system-wide bucket totals and counts active holds
// whose expiry is in the past, which the sweep should have released.
func (r *Runner) RunAll(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
	}()

	available, locked, negative, err := r.ledger.SumBalances(ctx)
	if err != nil {
		runErrors.Inc()
		return nil, fmt.Errorf("failed to sum balances: %w", err)
	}

	stuck, err := r.locks.ListExpired(ctx, time.Now().UTC().Add(-time.Minute), 100)
	if err != nil {
		runErrors.Inc()
		return nil, fmt.Errorf("failed to list expired locks: %w", err)
	}
	stuckLocks.Set(float64(len(stuck)))

	return &Result{
		TotalAvailable: available.String(),
		TotalLocked:    locked.String(),
		TotalNegative:  negative.String(),
		StuckLocks:     len(stuck),
		RanAt:          start.UTC().Format(time.RFC3339),
	}, nil
}
