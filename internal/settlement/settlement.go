// Package settlement pays sellers their order proceeds after a
// verification-tier-dependent delay, net of commission and platform
// fees.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/metrics"
	"github.com/bazaarpay/walletd/internal/tiers"
)

var (
	ErrSettlementNotFound = errors.New("settlement not found")
	ErrNegativeNetAmount  = errors.New("net amount is negative")
	ErrInvalidAmount      = errors.New("invalid settlement amount")
)

// Status represents the state of a scheduled settlement.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Settlement is a deferred seller payout.
type Settlement struct {
	ID               string          `json:"id"`
	SellerID         string          `json:"sellerId"`
	OrderAmount      decimal.Decimal `json:"orderAmount"`
	CommissionRate   decimal.Decimal `json:"commissionRate"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	PlatformFees     decimal.Decimal `json:"platformFees"`
	NetAmount        decimal.Decimal `json:"netAmount"`
	Tier             tiers.Tier      `json:"tier"`
	ReferenceID      string          `json:"referenceId,omitempty"`
	ScheduledDate    time.Time       `json:"scheduledDate"`
	Status           Status          `json:"status"`
	FailureReason    string          `json:"failureReason,omitempty"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Computation is the commission breakdown for an order amount.
type Computation struct {
	CommissionAmount   decimal.Decimal `json:"commissionAmount"`
	PlatformFeesAmount decimal.Decimal `json:"platformFeesAmount"`
	NetAmount          decimal.Decimal `json:"netAmount"`
}

// Store persists scheduled settlements.
type Store interface {
	Create(ctx context.Context, s *Settlement) error
	Get(ctx context.Context, id string) (*Settlement, error)
	Update(ctx context.Context, s *Settlement) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Settlement, error)
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Settlement, error)
}

// LedgerService is the slice of the ledger engine the scheduler needs.
type LedgerService interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*ledger.Entry, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*ledger.Entry, error)
}

// ScheduleRequest contains the parameters for scheduling a settlement.
type ScheduleRequest struct {
	SellerID       string          `json:"sellerId" binding:"required"`
	OrderAmount    decimal.Decimal `json:"orderAmount" binding:"required"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	PlatformFees   decimal.Decimal `json:"platformFees"`
	ReferenceID    string          `json:"referenceId"`
}

// Events receives notifications about processed settlements.
// Implementations must not block.
type Events interface {
	SettlementCompleted(sellerID, settlementID, netAmount string)
	SettlementFailed(sellerID, settlementID, reason string)
}

type noopEvents struct{}

func (noopEvents) SettlementCompleted(string, string, string) {}
func (noopEvents) SettlementFailed(string, string, string)   {}

// Scheduler implements settlement business logic.
type Scheduler struct {
	store  Store
	ledger LedgerService
	tiers  tiers.Provider
	events Events
}

// NewScheduler creates a new settlement scheduler.
func NewScheduler(store Store, ledger LedgerService, tierProvider tiers.Provider) *Scheduler {
	return &Scheduler{store: store, ledger: ledger, tiers: tierProvider, events: noopEvents{}}
}

// WithEvents sets the event sink notified when due settlements are
// processed.
func (s *Scheduler) WithEvents(events Events) *Scheduler {
	if events != nil {
		s.events = events
	}
	return s
}

// Compute derives commission, fees and net amount for an order. It
// never mutates balances; a negative net rejects the settlement before
// anything is written.
func Compute(orderAmount, commissionRate, platformFees decimal.Decimal) (Computation, error) {
	if orderAmount.Sign() <= 0 {
		return Computation{}, ErrInvalidAmount
	}
	if commissionRate.Sign() < 0 || platformFees.Sign() < 0 {
		return Computation{}, ErrInvalidAmount
	}

	commission := orderAmount.Mul(commissionRate).Div(decimal.NewFromInt(100)).Round(2)
	net := orderAmount.Sub(commission).Sub(platformFees)
	if net.Sign() < 0 {
		return Computation{}, ErrNegativeNetAmount
	}
	return Computation{
		CommissionAmount:   commission,
		PlatformFeesAmount: platformFees,
		NetAmount:          net,
	}, nil
}

// NextBusinessDay returns t advanced by days business days, skipping
// weekends one day at a time.
func NextBusinessDay(t time.Time, days int) time.Time {
	d := t
	for i := 0; i < days; i++ {
		d = d.AddDate(0, 0, 1)
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
	}
	return d
}

// Schedule validates the commission math and records a settlement due
// after the seller's tier delay.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*Settlement, error) {
	comp, err := Compute(req.OrderAmount, req.CommissionRate, req.PlatformFees)
	if err != nil {
		return nil, err
	}

	tier := s.tiers.VerificationTier(req.SellerID)
	now := time.Now().UTC()
	settlement := &Settlement{
		ID:               idgen.WithPrefix("stl_"),
		SellerID:         req.SellerID,
		OrderAmount:      req.OrderAmount,
		CommissionRate:   req.CommissionRate,
		CommissionAmount: comp.CommissionAmount,
		PlatformFees:     comp.PlatformFeesAmount,
		NetAmount:        comp.NetAmount,
		Tier:             tier,
		ReferenceID:      req.ReferenceID,
		ScheduledDate:    NextBusinessDay(now, tier.SettlementDelayDays()),
		Status:           StatusScheduled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, settlement); err != nil {
		return nil, fmt.Errorf("failed to create settlement record: %w", err)
	}
	return settlement, nil
}

// Get returns a settlement by id.
func (s *Scheduler) Get(ctx context.Context, id string) (*Settlement, error) {
	return s.store.Get(ctx, id)
}

// ListBySeller returns a seller's settlements, newest first.
func (s *Scheduler) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// ProcessDue executes every scheduled settlement whose date has
// arrived: credit the gross order amount, then debit commission and
// platform fees. A failure marks that settlement failed and moves on;
// the batch never aborts.
func (s *Scheduler) ProcessDue(ctx context.Context, now time.Time) (processed int, failed int) {
	due, err := s.store.ListDue(ctx, now, 100)
	if err != nil {
		return 0, 0
	}

	for _, settlement := range due {
		if err := s.execute(ctx, settlement); err != nil {
			settlement.Status = StatusFailed
			settlement.FailureReason = err.Error()
			settlement.UpdatedAt = time.Now().UTC()
			_ = s.store.Update(ctx, settlement)
			metrics.SettlementsTotal.WithLabelValues(string(StatusFailed)).Inc()
			s.events.SettlementFailed(settlement.SellerID, settlement.ID, settlement.FailureReason)
			failed++
			continue
		}

		t := time.Now().UTC()
		settlement.Status = StatusCompleted
		settlement.ProcessedAt = &t
		settlement.UpdatedAt = t
		if err := s.store.Update(ctx, settlement); err != nil {
			failed++
			continue
		}
		metrics.SettlementsTotal.WithLabelValues(string(StatusCompleted)).Inc()
		s.events.SettlementCompleted(settlement.SellerID, settlement.ID, settlement.NetAmount.StringFixed(2))
		processed++
	}
	return processed, failed
}

func (s *Scheduler) execute(ctx context.Context, settlement *Settlement) error {
	if _, err := s.ledger.Credit(ctx, settlement.SellerID, settlement.OrderAmount,
		"settlement", settlement.ID, "order proceeds"); err != nil {
		return fmt.Errorf("failed to credit order amount: %w", err)
	}
	if settlement.CommissionAmount.Sign() > 0 {
		if _, err := s.ledger.Debit(ctx, settlement.SellerID, settlement.CommissionAmount,
			"settlement", settlement.ID, "marketplace commission"); err != nil {
			return fmt.Errorf("failed to debit commission: %w", err)
		}
	}
	if settlement.PlatformFees.Sign() > 0 {
		if _, err := s.ledger.Debit(ctx, settlement.SellerID, settlement.PlatformFees,
			"settlement", settlement.ID, "platform fees"); err != nil {
			return fmt.Errorf("failed to debit platform fees: %w", err)
		}
	}
	return nil
}
