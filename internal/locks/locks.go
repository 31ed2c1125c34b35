// Package locks manages escrow holds over wallet funds.
//
// Flow:
//  1. A deal or withdrawal locks funds: available → locked, Lock status active
//  2. The owning workflow releases the hold → funds return to available
//  3. A dispute freezes the hold until the resolver settles it
//  4. Expired holds are swept back to available by the timer
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/bazaarpay/walletd/internal/metrics"
	"github.com/bazaarpay/walletd/internal/syncutil"
)

var (
	ErrLockNotFound      = errors.New("lock not found")
	ErrLockNotActive     = errors.New("lock is not active")
	ErrLockNotDisputed   = errors.New("lock is not disputed")
	ErrInvalidAmount     = errors.New("invalid lock amount")
	ErrAmountExceedsLock = errors.New("amounts exceed locked amount")
	ErrInvalidCondition  = errors.New("unknown release condition")
)

// Status represents the state of an escrow hold.
type Status string

const (
	StatusActive            Status = "active"
	StatusReleased          Status = "released"
	StatusDisputed          Status = "disputed"
	StatusHeld              Status = "held"
	StatusPartiallyReleased Status = "partially_released"
)

// Release conditions fired by the order/deal workflow.
const (
	ConditionOrderCompleted  = "order_completed"
	ConditionDealConfirmed   = "deal_confirmed"
	ConditionDisputeResolved = "dispute_resolved"
)

// Lock is an escrow hold against a wallet.
type Lock struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	LockedUntil   *time.Time      `json:"lockedUntil,omitempty"`
	Status        Status          `json:"status"`
	ReleaseReason string          `json:"releaseReason,omitempty"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// IsTerminal returns true if the lock is in a final state.
func (l *Lock) IsTerminal() bool {
	switch l.Status {
	case StatusReleased, StatusPartiallyReleased:
		return true
	}
	return false
}

// Store persists escrow holds.
type Store interface {
	Create(ctx context.Context, lock *Lock) error
	Get(ctx context.Context, id string) (*Lock, error)
	Update(ctx context.Context, lock *Lock) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Lock, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Lock, error)
	ListActiveByReference(ctx context.Context, referenceID string) ([]*Lock, error)
}

// LedgerService abstracts the wallet operations the manager needs so
// this package does not import the ledger engine directly.
type LedgerService interface {
	EscrowLock(ctx context.Context, userID string, amount decimal.Decimal, referenceID string) error
	ReleaseEscrow(ctx context.Context, userID string, amount decimal.Decimal, referenceID string) error
	SettleEscrow(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, referenceID string) error
	PartialEscrowSettle(ctx context.Context, fromUserID, toUserID string, ownerAmount, counterpartyAmount decimal.Decimal, referenceID string) error
}

// CreateRequest contains the parameters for creating a hold.
type CreateRequest struct {
	UserID      string          `json:"userId" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Reason      string          `json:"reason" binding:"required"`
	ReferenceID string          `json:"referenceId"`
	LockedUntil *time.Time      `json:"lockedUntil"`
}

// Manager implements escrow hold business logic.
type Manager struct {
	store  Store
	ledger LedgerService
	logger *slog.Logger
	locks  syncutil.ContextShardedMutex // per-lock ID mutexes to serialize state transitions
}

// NewManager creates a new lock manager.
func NewManager(store Store, ledger LedgerService) *Manager {
	return &Manager{store: store, ledger: ledger, logger: slog.Default()}
}

// WithLogger sets the logger used for sweep reporting.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// Lock moves funds into escrow and records the hold.
func (m *Manager) Lock(ctx context.Context, req CreateRequest) (*Lock, error) {
	if req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	lock := &Lock{
		ID:          idgen.WithPrefix("lck_"),
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		ReferenceID: req.ReferenceID,
		LockedUntil: req.LockedUntil,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.ledger.EscrowLock(ctx, lock.UserID, lock.Amount, lock.ID); err != nil {
		return nil, fmt.Errorf("failed to lock funds: %w", err)
	}

	if err := m.store.Create(ctx, lock); err != nil {
		// Best-effort unlock if the record cannot be stored
		_ = m.ledger.ReleaseEscrow(ctx, lock.UserID, lock.Amount, lock.ID)
		return nil, fmt.Errorf("failed to create lock record: %w", err)
	}
	metrics.LocksCreatedTotal.Inc()
	return lock, nil
}

// Get returns a hold by id.
func (m *Manager) Get(ctx context.Context, id string) (*Lock, error) {
	return m.store.Get(ctx, id)
}

// ListByUser returns a user's holds, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID string, limit int) ([]*Lock, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListByUser(ctx, userID, limit)
}

// Release returns the full held amount to the owner. The lock must be
// active.
func (m *Manager) Release(ctx context.Context, id, reason string) (*Lock, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lock, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock.Status != StatusActive {
		return nil, ErrLockNotActive
	}

	if err := m.ledger.ReleaseEscrow(ctx, lock.UserID, lock.Amount, lock.ID); err != nil {
		return nil, fmt.Errorf("failed to release funds: %w", err)
	}

	now := time.Now().UTC()
	lock.Status = StatusReleased
	lock.ReleaseReason = reason
	lock.ResolvedAt = &now
	lock.UpdatedAt = now

	if err := m.store.Update(ctx, lock); err != nil {
		// Compensate: re-lock the released funds
		_ = m.ledger.EscrowLock(ctx, lock.UserID, lock.Amount, lock.ID)
		return nil, fmt.Errorf("failed to update lock after release: %w", err)
	}
	metrics.LocksReleasedTotal.WithLabelValues(releaseTrigger(reason)).Inc()
	return lock, nil
}

func releaseTrigger(reason string) string {
	switch {
	case reason == "automatic expiration":
		return "expired"
	case strings.HasPrefix(reason, "automatic release"):
		return "condition"
	default:
		return "manual"
	}
}

// SweepExpired releases every active lock whose expiry has passed.
// Individual failures are reported but do not abort the sweep.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (released int, failed []string) {
	expired, err := m.store.ListExpired(ctx, now, 100)
	if err != nil {
		m.logger.Error("failed to list expired locks", "error", err)
		return 0, nil
	}
	for _, lock := range expired {
		if _, err := m.Release(ctx, lock.ID, "automatic expiration"); err != nil {
			failed = append(failed, lock.ID)
			continue
		}
		released++
	}
	return released, failed
}

// CheckAutomaticRelease releases all active locks for a reference when
// the owning workflow signals a terminal condition. The manager does not
// observe orders itself; the order/deal workflow calls this.
func (m *Manager) CheckAutomaticRelease(ctx context.Context, referenceID, conditionType string) (int, error) {
	switch conditionType {
	case ConditionOrderCompleted, ConditionDealConfirmed, ConditionDisputeResolved:
	default:
		return 0, ErrInvalidCondition
	}

	active, err := m.store.ListActiveByReference(ctx, referenceID)
	if err != nil {
		return 0, fmt.Errorf("failed to list locks for reference: %w", err)
	}

	released := 0
	for _, lock := range active {
		if _, err := m.Release(ctx, lock.ID, "automatic release: "+conditionType); err != nil {
			continue
		}
		released++
	}
	return released, nil
}

// MarkDisputed freezes an active hold pending dispute resolution. No
// funds move.
func (m *Manager) MarkDisputed(ctx context.Context, id string) (*Lock, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lock, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock.Status != StatusActive {
		return nil, ErrLockNotActive
	}

	lock.Status = StatusDisputed
	lock.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, lock); err != nil {
		return nil, fmt.Errorf("failed to mark lock disputed: %w", err)
	}
	return lock, nil
}

// ResolveRelease returns the full disputed amount to the owner.
func (m *Manager) ResolveRelease(ctx context.Context, id, reason string) (*Lock, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lock, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock.Status != StatusDisputed {
		return nil, ErrLockNotDisputed
	}

	if err := m.ledger.ReleaseEscrow(ctx, lock.UserID, lock.Amount, lock.ID); err != nil {
		return nil, fmt.Errorf("failed to release disputed funds: %w", err)
	}
	return m.finishResolution(ctx, lock, StatusReleased, reason)
}

// ResolveToCounterparty pays the full disputed amount to the other
// party of the originating deal.
func (m *Manager) ResolveToCounterparty(ctx context.Context, id, counterpartyID, reason string) (*Lock, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lock, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock.Status != StatusDisputed {
		return nil, ErrLockNotDisputed
	}

	if err := m.ledger.SettleEscrow(ctx, lock.UserID, counterpartyID, lock.Amount, lock.ID); err != nil {
		return nil, fmt.Errorf("failed to settle disputed funds: %w", err)
	}
	return m.finishResolution(ctx, lock, StatusReleased, reason)
}

// ResolvePartial splits the disputed amount: ownerAmount back to the
// owner, counterpartyAmount to the other party. Any remainder also
// returns to the owner.
func (m *Manager) ResolvePartial(ctx context.Context, id, counterpartyID string, ownerAmount, counterpartyAmount decimal.Decimal, reason string) (*Lock, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lock, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock.Status != StatusDisputed {
		return nil, ErrLockNotDisputed
	}
	if ownerAmount.Sign() < 0 || counterpartyAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if ownerAmount.Add(counterpartyAmount).GreaterThan(lock.Amount) {
		return nil, ErrAmountExceedsLock
	}

	// The undistributed remainder goes back to the owner.
	remainder := lock.Amount.Sub(ownerAmount).Sub(counterpartyAmount)
	if err := m.ledger.PartialEscrowSettle(ctx, lock.UserID, counterpartyID,
		ownerAmount.Add(remainder), counterpartyAmount, lock.ID); err != nil {
		return nil, fmt.Errorf("failed to settle disputed funds: %w", err)
	}
	return m.finishResolution(ctx, lock, StatusPartiallyReleased, reason)
}

// HoldFunds keeps disputed funds frozen pending further investigation.
// No balance movement.
func (m *Manager) HoldFunds(ctx context.Context, id, reason string) (*Lock, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lock, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock.Status != StatusDisputed {
		return nil, ErrLockNotDisputed
	}
	return m.finishResolution(ctx, lock, StatusHeld, reason)
}

func (m *Manager) finishResolution(ctx context.Context, lock *Lock, status Status, reason string) (*Lock, error) {
	now := time.Now().UTC()
	lock.Status = status
	lock.ReleaseReason = reason
	lock.ResolvedAt = &now
	lock.UpdatedAt = now

	if err := m.store.Update(ctx, lock); err != nil {
		return nil, fmt.Errorf("failed to update lock after resolution: %w", err)
	}
	return lock, nil
}
