// Package disputes resolves contested escrow holds.
//
// A dispute is opened against an active hold, freezing it. Resolution
// settles the frozen funds one of four ways: back to the buyer, to the
// seller, split between both, or kept frozen pending investigation.
package disputes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/bazaarpay/walletd/internal/locks"
	"github.com/bazaarpay/walletd/internal/metrics"
	"github.com/bazaarpay/walletd/internal/syncutil"
)

var (
	ErrDisputeNotFound        = errors.New("dispute not found")
	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")
	ErrUnknownResolution      = errors.New("unknown resolution")
	ErrCounterpartyUnknown    = errors.New("counterparty could not be determined")
)

// Status represents the state of a dispute.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Resolution outcomes.
const (
	ResolutionReleaseToBuyer  = "release_to_buyer"
	ResolutionReleaseToSeller = "release_to_seller"
	ResolutionPartialRelease  = "partial_release"
	ResolutionHoldFunds       = "hold_funds"
)

// Dispute is a first-class record of a contested hold.
type Dispute struct {
	ID               string           `json:"id"`
	LockID           string           `json:"lockId"`
	UserID           string           `json:"userId"`
	Reason           string           `json:"reason"`
	Initiator        string           `json:"initiator"`
	Description      string           `json:"description,omitempty"`
	Status           Status           `json:"status"`
	Resolution       string           `json:"resolution,omitempty"`
	ResolvedBy       string           `json:"resolvedBy,omitempty"`
	ResolutionReason string           `json:"resolutionReason,omitempty"`
	BuyerAmount      *decimal.Decimal `json:"buyerAmount,omitempty"`
	SellerAmount     *decimal.Decimal `json:"sellerAmount,omitempty"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Store persists disputes.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListByLock(ctx context.Context, lockID string) ([]*Dispute, error)
}

// LockService is the slice of the lock manager the resolver needs.
type LockService interface {
	Get(ctx context.Context, id string) (*locks.Lock, error)
	MarkDisputed(ctx context.Context, id string) (*locks.Lock, error)
	ResolveRelease(ctx context.Context, id, reason string) (*locks.Lock, error)
	ResolveToCounterparty(ctx context.Context, id, counterpartyID, reason string) (*locks.Lock, error)
	ResolvePartial(ctx context.Context, id, counterpartyID string, ownerAmount, counterpartyAmount decimal.Decimal, reason string) (*locks.Lock, error)
	HoldFunds(ctx context.Context, id, reason string) (*locks.Lock, error)
}

// DealDirectory resolves the counterparty of the deal a hold belongs
// to. The deal workflow owns that mapping, not this package.
type DealDirectory interface {
	Counterparty(ctx context.Context, referenceID, userID string) (string, error)
}

// StaticDealDirectory is a map-backed directory for demo mode and tests.
type StaticDealDirectory map[string]string

func (d StaticDealDirectory) Counterparty(ctx context.Context, referenceID, userID string) (string, error) {
	if counterparty, ok := d[referenceID]; ok {
		return counterparty, nil
	}
	return "", ErrCounterpartyUnknown
}

// OpenRequest contains the parameters for opening a dispute.
type OpenRequest struct {
	LockID      string `json:"lockId" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	Initiator   string `json:"initiator" binding:"required"`
	Description string `json:"description"`
}

// PartialAmounts is the split for a partial_release resolution.
type PartialAmounts struct {
	BuyerAmount  decimal.Decimal `json:"buyerAmount"`
	SellerAmount decimal.Decimal `json:"sellerAmount"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Resolution     string          `json:"resolution" binding:"required"`
	ResolvedBy     string          `json:"resolvedBy" binding:"required"`
	Reason         string          `json:"reason"`
	PartialAmounts *PartialAmounts `json:"partialAmounts"`
}

// Events receives notifications about resolved disputes. Implementations
// must not block.
type Events interface {
	DisputeResolved(userID, disputeID, resolution string)
}

type noopEvents struct{}

func (noopEvents) DisputeResolved(string, string, string) {}

// Resolver implements dispute business logic.
type Resolver struct {
	store    Store
	manager  LockService
	deals    DealDirectory
	events   Events
	disputes syncutil.ShardedMutex // per-dispute ID mutexes to serialize resolution
}

// NewResolver creates a new dispute resolver.
func NewResolver(store Store, manager LockService, deals DealDirectory) *Resolver {
	return &Resolver{store: store, manager: manager, deals: deals, events: noopEvents{}}
}

// WithEvents sets the event sink notified after a dispute is resolved.
func (r *Resolver) WithEvents(events Events) *Resolver {
	if events != nil {
		r.events = events
	}
	return r
}

// Open opens a dispute against an active hold and freezes it.
func (r *Resolver) Open(ctx context.Context, req OpenRequest) (*Dispute, error) {
	lock, err := r.manager.MarkDisputed(ctx, req.LockID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &Dispute{
		ID:          idgen.WithPrefix("dsp_"),
		LockID:      lock.ID,
		UserID:      lock.UserID,
		Reason:      req.Reason,
		Initiator:   req.Initiator,
		Description: req.Description,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute record: %w", err)
	}
	return d, nil
}

// Get returns a dispute by id.
func (r *Resolver) Get(ctx context.Context, id string) (*Dispute, error) {
	return r.store.Get(ctx, id)
}

// ListByLock returns the disputes opened against a hold.
func (r *Resolver) ListByLock(ctx context.Context, lockID string) ([]*Dispute, error) {
	return r.store.ListByLock(ctx, lockID)
}

// Resolve settles an open dispute with one of the four outcomes.
func (r *Resolver) Resolve(ctx context.Context, id string, req ResolveRequest) (*Dispute, error) {
	unlock := r.disputes.Lock(id)
	defer unlock()

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrDisputeAlreadyResolved
	}

	lock, err := r.manager.Get(ctx, d.LockID)
	if err != nil {
		return nil, err
	}

	switch req.Resolution {
	case ResolutionReleaseToBuyer:
		_, err = r.manager.ResolveRelease(ctx, d.LockID, req.Reason)

	case ResolutionReleaseToSeller:
		var seller string
		seller, err = r.counterparty(ctx, lock)
		if err == nil {
			_, err = r.manager.ResolveToCounterparty(ctx, d.LockID, seller, req.Reason)
		}

	case ResolutionPartialRelease:
		if req.PartialAmounts == nil {
			return nil, locks.ErrInvalidAmount
		}
		var seller string
		seller, err = r.counterparty(ctx, lock)
		if err == nil {
			_, err = r.manager.ResolvePartial(ctx, d.LockID, seller,
				req.PartialAmounts.BuyerAmount, req.PartialAmounts.SellerAmount, req.Reason)
		}
		if err == nil {
			buyer := req.PartialAmounts.BuyerAmount
			sellerAmt := req.PartialAmounts.SellerAmount
			d.BuyerAmount = &buyer
			d.SellerAmount = &sellerAmt
		}

	case ResolutionHoldFunds:
		_, err = r.manager.HoldFunds(ctx, d.LockID, req.Reason)

	default:
		return nil, ErrUnknownResolution
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d.Status = StatusResolved
	d.Resolution = req.Resolution
	d.ResolvedBy = req.ResolvedBy
	d.ResolutionReason = req.Reason
	d.ResolvedAt = &now
	d.UpdatedAt = now

	if err := r.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update dispute after resolution: %w", err)
	}
	metrics.DisputesTotal.WithLabelValues(string(req.Resolution)).Inc()
	r.events.DisputeResolved(d.UserID, d.ID, d.Resolution)
	return d, nil
}

func (r *Resolver) counterparty(ctx context.Context, lock *locks.Lock) (string, error) {
	if r.deals == nil {
		return "", ErrCounterpartyUnknown
	}
	seller, err := r.deals.Counterparty(ctx, lock.ReferenceID, lock.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve counterparty: %w", err)
	}
	return seller, nil
}
