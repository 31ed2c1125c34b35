// Package withdrawal moves wallet funds out to a user's bank account or
// UPI address through an external payout gateway. A request first locks
// the amount, the payout call runs outside any wallet lock, and the
// gateway's asynchronous callback settles the final state.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/locks"
	"github.com/bazaarpay/walletd/internal/metrics"
	"github.com/bazaarpay/walletd/internal/syncutil"
	"github.com/bazaarpay/walletd/internal/tiers"
)

var (
	ErrWithdrawalNotFound      = errors.New("withdrawal not found")
	ErrWithdrawalNotPending    = errors.New("withdrawal is not pending")
	ErrWithdrawalNotProcessing = errors.New("withdrawal is not processing")
	ErrBelowMinimum            = errors.New("amount below minimum withdrawal")
	ErrDailyLimitExceeded      = errors.New("daily withdrawal limit exceeded")
	ErrInvalidMethod           = errors.New("invalid withdrawal method")
	ErrUnknownOutcome          = errors.New("unknown payout outcome")

	// ErrGatewayUnavailable marks a transient gateway failure. The
	// withdrawal stays pending so the caller can retry.
	ErrGatewayUnavailable = errors.New("payout gateway unavailable")

	// ErrTransferDeclined marks a terminal gateway rejection.
	ErrTransferDeclined = errors.New("payout transfer declined")
)

// Method is the payout rail for a withdrawal.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodUPI          Method = "upi"
)

// Status represents the state of a withdrawal request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReversed   Status = "reversed"
)

// Payout callback outcomes reported by the gateway.
const (
	OutcomeSuccess   = "SUCCESS"
	OutcomeFailed    = "FAILED"
	OutcomeCancelled = "CANCELLED"
	OutcomeReversed  = "REVERSED"
)

// Destination holds the beneficiary details for a payout.
type Destination struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	UPIAddress    string `json:"upiAddress,omitempty"`
}

// Request is a withdrawal request and its payout lifecycle state.
type Request struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Amount            decimal.Decimal `json:"amount"`
	Method            Method          `json:"method"`
	Destination       Destination     `json:"destination"`
	LockID            string          `json:"lockId"`
	Status            Status          `json:"status"`
	GatewayTransferID string          `json:"gatewayTransferId,omitempty"`
	FailureReason     string          `json:"failureReason,omitempty"`
	ProcessedAt       *time.Time      `json:"processedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// debited reports whether the wallet debit for this request has
// happened, which decides whether a failure callback credits back.
func (r *Request) debited() bool {
	return r.Status == StatusProcessing || r.Status == StatusCompleted
}

// Store persists withdrawal requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByGatewayTransferID(ctx context.Context, transferID string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error)
	// SumRequestedSince totals a user's non-failed requests created at
	// or after the given instant, for daily limit enforcement.
	SumRequestedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
}

// TransferRequest is the payout order handed to the gateway.
type TransferRequest struct {
	TransferID  string
	Amount      decimal.Decimal
	Method      Method
	Destination Destination
}

// TransferResult is the gateway's synchronous acceptance of a payout.
type TransferResult struct {
	GatewayTransferID string
	Status            string
}

// PayoutGateway initiates external transfers. Implementations report
// transient failures by wrapping ErrGatewayUnavailable and terminal
// rejections by wrapping ErrTransferDeclined.
type PayoutGateway interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// LockService is the slice of the lock manager the processor needs.
type LockService interface {
	Lock(ctx context.Context, req locks.CreateRequest) (*locks.Lock, error)
	Release(ctx context.Context, id, reason string) (*locks.Lock, error)
}

// LedgerService is the slice of the ledger engine the processor needs.
type LedgerService interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*ledger.Entry, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*ledger.Entry, error)
}

// Events receives withdrawal lifecycle notifications. Implementations
// must not block; the processor calls them inline after state changes.
type Events interface {
	WithdrawalCompleted(userID, withdrawalID, amount string)
	WithdrawalFailed(userID, withdrawalID, amount, reason string)
	WithdrawalReversed(userID, withdrawalID, amount string)
}

// noopEvents is the default Events sink.
type noopEvents struct{}

func (noopEvents) WithdrawalCompleted(string, string, string)      {}
func (noopEvents) WithdrawalFailed(string, string, string, string) {}
func (noopEvents) WithdrawalReversed(string, string, string)       {}

// RequestInput contains the parameters for a new withdrawal.
type RequestInput struct {
	UserID      string          `json:"userId" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Method      Method          `json:"method" binding:"required"`
	Destination Destination     `json:"destination"`
}

// Processor implements withdrawal business logic.
type Processor struct {
	store         Store
	locks         LockService
	ledger        LedgerService
	gateway       PayoutGateway
	tiers         tiers.Provider
	minAmount     decimal.Decimal
	payoutTimeout time.Duration
	logger        *slog.Logger
	events        Events

	requestMutexes syncutil.ShardedMutex
}

// Option configures a Processor.
type Option func(*Processor)

// WithMinimumAmount overrides the minimum withdrawal amount.
func WithMinimumAmount(min decimal.Decimal) Option {
	return func(p *Processor) { p.minAmount = min }
}

// WithPayoutTimeout bounds the synchronous gateway call.
func WithPayoutTimeout(d time.Duration) Option {
	return func(p *Processor) { p.payoutTimeout = d }
}

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithEvents sets the lifecycle event sink.
func WithEvents(events Events) Option {
	return func(p *Processor) {
		if events != nil {
			p.events = events
		}
	}
}

// NewProcessor creates a new withdrawal processor.
func NewProcessor(store Store, lockSvc LockService, ledgerSvc LedgerService, gateway PayoutGateway, tierProvider tiers.Provider, opts ...Option) *Processor {
	p := &Processor{
		store:         store,
		locks:         lockSvc,
		ledger:        ledgerSvc,
		gateway:       gateway,
		tiers:         tierProvider,
		minAmount:     decimal.NewFromInt(100),
		payoutTimeout: 30 * time.Second,
		logger:        slog.Default(),
		events:        noopEvents{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request validates limits, locks the amount and records a pending
// withdrawal.
func (p *Processor) Request(ctx context.Context, input RequestInput) (*Request, error) {
	switch input.Method {
	case MethodBankTransfer, MethodUPI:
	default:
		return nil, ErrInvalidMethod
	}
	if input.Amount.LessThan(p.minAmount) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, p.minAmount)
	}

	tier := p.tiers.VerificationTier(input.UserID)
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	requested, err := p.store.SumRequestedSince(ctx, input.UserID, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("failed to sum daily withdrawals: %w", err)
	}
	if requested.Add(input.Amount).GreaterThan(tier.DailyWithdrawalLimit()) {
		return nil, fmt.Errorf("%w: %s tier allows %s per day", ErrDailyLimitExceeded, tier, tier.DailyWithdrawalLimit())
	}

	id := idgen.WithPrefix("wdr_")
	lock, err := p.locks.Lock(ctx, locks.CreateRequest{
		UserID:      input.UserID,
		Amount:      input.Amount,
		Reason:      "withdrawal",
		ReferenceID: id,
	})
	if err != nil {
		return nil, err
	}

	request := &Request{
		ID:          id,
		UserID:      input.UserID,
		Amount:      input.Amount,
		Method:      input.Method,
		Destination: input.Destination,
		LockID:      lock.ID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.Create(ctx, request); err != nil {
		if _, rerr := p.locks.Release(ctx, lock.ID, "withdrawal record failed"); rerr != nil {
			p.logger.Error("failed to release lock after store failure", "lock_id", lock.ID, "error", rerr)
		}
		return nil, fmt.Errorf("failed to create withdrawal record: %w", err)
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(StatusPending)).Inc()
	return request, nil
}

// Get returns a withdrawal by id.
func (p *Processor) Get(ctx context.Context, id string) (*Request, error) {
	return p.store.Get(ctx, id)
}

// ListByUser returns a user's withdrawals, newest first.
func (p *Processor) ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.store.ListByUser(ctx, userID, limit)
}

// Process sends a pending withdrawal to the payout gateway. The gateway
// round-trip runs under its own timeout and never under a wallet lock;
// the wallet is touched only for the unlock and debit afterwards.
//
// A transient gateway error leaves the request pending for retry. A
// declared rejection releases the lock and marks the request failed.
// A failed unlock or debit after the gateway accepts also leaves the
// request pending; the request never advances to processing unless
// both wallet moves landed.
func (p *Processor) Process(ctx context.Context, id string) (*Request, error) {
	unlock := p.requestMutexes.Lock(id)
	defer unlock()

	request, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrWithdrawalNotPending, request.Status)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, p.payoutTimeout)
	defer cancel()
	result, err := p.gateway.InitiateTransfer(gatewayCtx, TransferRequest{
		TransferID:  request.ID,
		Amount:      request.Amount,
		Method:      request.Method,
		Destination: request.Destination,
	})
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			metrics.PayoutGatewayCallsTotal.WithLabelValues("unavailable").Inc()
			return request, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		metrics.PayoutGatewayCallsTotal.WithLabelValues("declined").Inc()
		return p.markFailed(ctx, request, err.Error())
	}
	metrics.PayoutGatewayCallsTotal.WithLabelValues("accepted").Inc()

	if _, err := p.locks.Release(ctx, request.LockID, "withdrawal payout"); err != nil {
		return nil, fmt.Errorf("failed to release withdrawal lock after payout: %w", err)
	}
	if _, err := p.ledger.Debit(ctx, request.UserID, request.Amount,
		"withdrawal", result.GatewayTransferID, "withdrawal payout"); err != nil {
		// Compensate: restore the hold so the released funds cannot be
		// spent before the retry.
		relock, rerr := p.locks.Lock(ctx, locks.CreateRequest{
			UserID:      request.UserID,
			Amount:      request.Amount,
			Reason:      "withdrawal",
			ReferenceID: request.ID,
		})
		if rerr != nil {
			p.logger.Error("failed to restore lock after debit failure", "withdrawal_id", request.ID, "error", rerr)
		} else {
			request.LockID = relock.ID
			request.UpdatedAt = time.Now().UTC()
			if uerr := p.store.Update(ctx, request); uerr != nil {
				p.logger.Error("failed to record restored lock", "withdrawal_id", request.ID, "lock_id", relock.ID, "error", uerr)
			}
		}
		return nil, fmt.Errorf("failed to debit withdrawal amount: %w", err)
	}

	now := time.Now().UTC()
	request.Status = StatusProcessing
	request.GatewayTransferID = result.GatewayTransferID
	request.ProcessedAt = &now
	request.UpdatedAt = now
	if err := p.store.Update(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to update withdrawal record: %w", err)
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(StatusProcessing)).Inc()
	return request, nil
}

func (p *Processor) markFailed(ctx context.Context, request *Request, reason string) (*Request, error) {
	if _, err := p.locks.Release(ctx, request.LockID, "payout declined"); err != nil {
		p.logger.Error("failed to release lock for declined payout", "withdrawal_id", request.ID, "lock_id", request.LockID, "error", err)
	}
	request.Status = StatusFailed
	request.FailureReason = reason
	request.UpdatedAt = time.Now().UTC()
	if err := p.store.Update(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to update withdrawal record: %w", err)
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(StatusFailed)).Inc()
	return request, nil
}

// HandlePayoutCallback applies the gateway's asynchronous outcome for a
// transfer. SUCCESS completes the withdrawal; FAILED and CANCELLED fail
// it, crediting the amount back if the debit already happened; REVERSED
// credits the amount back after the fact.
func (p *Processor) HandlePayoutCallback(ctx context.Context, transferID, outcome, externalRef, reason string) (*Request, error) {
	found, err := p.store.GetByGatewayTransferID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	unlock := p.requestMutexes.Lock(found.ID)
	defer unlock()

	request, err := p.store.Get(ctx, found.ID)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case OutcomeSuccess:
		if request.Status == StatusCompleted {
			return request, nil
		}
		if request.Status != StatusProcessing {
			return nil, fmt.Errorf("%w: status is %s", ErrWithdrawalNotProcessing, request.Status)
		}
		request.Status = StatusCompleted

	case OutcomeFailed, OutcomeCancelled:
		if request.Status != StatusProcessing {
			return nil, fmt.Errorf("%w: status is %s", ErrWithdrawalNotProcessing, request.Status)
		}
		if err := p.creditBack(ctx, request, externalRef, reason); err != nil {
			return nil, err
		}
		request.Status = StatusFailed
		request.FailureReason = reason

	case OutcomeReversed:
		if request.Status != StatusProcessing && request.Status != StatusCompleted {
			return nil, fmt.Errorf("%w: status is %s", ErrWithdrawalNotProcessing, request.Status)
		}
		if err := p.creditBack(ctx, request, externalRef, reason); err != nil {
			return nil, err
		}
		request.Status = StatusReversed
		request.FailureReason = reason

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}

	request.UpdatedAt = time.Now().UTC()
	if err := p.store.Update(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to update withdrawal record: %w", err)
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(request.Status)).Inc()

	amount := request.Amount.StringFixed(2)
	switch request.Status {
	case StatusCompleted:
		p.events.WithdrawalCompleted(request.UserID, request.ID, amount)
	case StatusFailed:
		p.events.WithdrawalFailed(request.UserID, request.ID, amount, request.FailureReason)
	case StatusReversed:
		p.events.WithdrawalReversed(request.UserID, request.ID, amount)
	}
	return request, nil
}

func (p *Processor) creditBack(ctx context.Context, request *Request, externalRef, reason string) error {
	if !request.debited() {
		return nil
	}
	ref := externalRef
	if ref == "" {
		ref = request.GatewayTransferID
	}
	if reason == "" {
		reason = "payout reversal"
	}
	if _, err := p.ledger.Credit(ctx, request.UserID, request.Amount,
		"withdrawal_reversal", ref, reason); err != nil {
		return fmt.Errorf("failed to credit back withdrawal amount: %w", err)
	}
	return nil
}
