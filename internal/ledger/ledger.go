// Package ledger tracks user wallet balances across three buckets.
//
// Flow:
//  1. Order/deal services credit and debit wallets
//  2. Escrow holds move funds available → locked
//  3. Releases move funds locked → available (or out, via transfer)
//  4. Under-funded debits overdraft into the negative bucket, up to a ceiling
//
// Every successful mutation appends exactly one immutable ledger entry;
// failed calls append nothing.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/bazaarpay/walletd/internal/pagination"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientLockedFunds = errors.New("insufficient locked funds")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrOverdraftLimitExceeded  = errors.New("overdraft limit exceeded")
	ErrSameWallet              = errors.New("transfer endpoints must differ")
)

// EntryType enumerates balance-mutating operations.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
	EntryLock   EntryType = "lock"
	EntryUnlock EntryType = "unlock"
)

func validEntryType(t EntryType) bool {
	switch t {
	case EntryCredit, EntryDebit, EntryLock, EntryUnlock:
		return true
	}
	return false
}

// Wallet is one user's balance record. Created lazily on first access,
// never deleted. All three buckets stay non-negative; only the ledger
// engine mutates them, under per-wallet exclusion.
type Wallet struct {
	UserID    string          `json:"userId"`
	Available decimal.Decimal `json:"availableBalance"`
	Locked    decimal.Decimal `json:"lockedBalance"`
	Negative  decimal.Decimal `json:"negativeBalance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Entry is one immutable line in the ledger. Debits record a negative
// amount; all other types record the positive movement magnitude.
// BalanceAfter snapshots the available balance post-mutation so audits
// do not need to replay history.
type Entry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	ReferenceType string          `json:"referenceType,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	ExternalTxID  string          `json:"externalTxId,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TransactionRequest describes one balance mutation.
type TransactionRequest struct {
	UserID        string          `json:"userId"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType string          `json:"referenceType,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	ExternalTxID  string          `json:"externalTxId,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// Store persists wallets and ledger entries. Apply and ApplyTransfer run
// their callback under per-wallet exclusion (row lock in Postgres, mutex
// in memory) and persist the wallet plus returned entries atomically: a
// callback error rolls everything back.
type Store interface {
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
	Apply(ctx context.Context, userID string, fn func(w *Wallet) (*Entry, error)) error
	ApplyTransfer(ctx context.Context, fromUserID, toUserID string, fn func(from, to *Wallet) ([]*Entry, error)) error
	ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error)
	ListEntriesPage(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error)
	FindEntryByReference(ctx context.Context, referenceType, referenceID string, entryType EntryType) (*Entry, error)
	SumBalances(ctx context.Context) (available, locked, negative decimal.Decimal, err error)
}

// DefaultOverdraftLimit bounds the negative bucket when a debit exceeds
// available funds.
var DefaultOverdraftLimit = decimal.NewFromInt(10000)

// Engine applies balance mutations with conservation guarantees.
type Engine struct {
	store          Store
	overdraftLimit decimal.Decimal
}

// Option configures the engine.
type Option func(*Engine)

// WithOverdraftLimit overrides the ceiling on the negative bucket.
func WithOverdraftLimit(limit decimal.Decimal) Option {
	return func(e *Engine) {
		e.overdraftLimit = limit
	}
}

// New creates a ledger engine over a store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		overdraftLimit: DefaultOverdraftLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Balance returns the user's wallet, lazily zero-valued for new users.
func (e *Engine) Balance(ctx context.Context, userID string) (*Wallet, error) {
	return e.store.GetWallet(ctx, userID)
}

// History returns recent ledger entries for a user, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListEntries(ctx, userID, limit)
}

// HistoryPage returns one page of ledger entries, newest first, starting
// after the opaque cursor. It returns the page, the cursor for the next
// page and whether more entries remain.
func (e *Engine) HistoryPage(ctx context.Context, userID, cursor string, limit int) ([]*Entry, string, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}

	// Fetch one extra row to detect whether a further page exists.
	entries, err := e.store.ListEntriesPage(ctx, userID, before, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.ComputePage(entries, limit, func(entry *Entry) (time.Time, string) {
		return entry.CreatedAt, entry.ID
	})
	return page, next, hasMore, nil
}

// FindByReference looks up a prior entry for idempotent retry checks.
// Returns (nil, nil) when no entry matches.
func (e *Engine) FindByReference(ctx context.Context, referenceType, referenceID string, entryType EntryType) (*Entry, error) {
	return e.store.FindEntryByReference(ctx, referenceType, referenceID, entryType)
}

// Apply executes one transaction against a wallet and appends the
// resulting entry, all inside a single storage transaction.
func (e *Engine) Apply(ctx context.Context, req TransactionRequest) (*Entry, error) {
	done := observeOp(string(req.Type))

	if !validEntryType(req.Type) {
		done(ErrInvalidTransactionType)
		return nil, ErrInvalidTransactionType
	}
	if req.Amount.Sign() <= 0 {
		done(ErrInvalidAmount)
		return nil, ErrInvalidAmount
	}

	var entry *Entry
	err := e.store.Apply(ctx, req.UserID, func(w *Wallet) (*Entry, error) {
		recorded, err := mutate(w, req.Type, req.Amount, e.overdraftLimit)
		if err != nil {
			return nil, err
		}
		entry = &Entry{
			ID:            idgen.WithPrefix("ent_"),
			UserID:        req.UserID,
			Type:          req.Type,
			Amount:        recorded,
			BalanceAfter:  w.Available,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			ExternalTxID:  req.ExternalTxID,
			Description:   req.Description,
			CreatedAt:     time.Now().UTC(),
		}
		return entry, nil
	})
	done(err)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit adds funds, offsetting any negative balance first.
func (e *Engine) Credit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*Entry, error) {
	return e.Apply(ctx, TransactionRequest{
		UserID: userID, Type: EntryCredit, Amount: amount,
		ReferenceType: referenceType, ReferenceID: referenceID, Description: description,
	})
}

// Debit removes funds, overdrafting into the negative bucket when
// available falls short (bounded by the overdraft limit).
func (e *Engine) Debit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*Entry, error) {
	return e.Apply(ctx, TransactionRequest{
		UserID: userID, Type: EntryDebit, Amount: amount,
		ReferenceType: referenceType, ReferenceID: referenceID, Description: description,
	})
}

// Lock moves funds from available to locked.
func (e *Engine) Lock(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*Entry, error) {
	return e.Apply(ctx, TransactionRequest{
		UserID: userID, Type: EntryLock, Amount: amount,
		ReferenceType: referenceType, ReferenceID: referenceID, Description: description,
	})
}

// Unlock moves funds from locked back to available.
func (e *Engine) Unlock(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*Entry, error) {
	return e.Apply(ctx, TransactionRequest{
		UserID: userID, Type: EntryUnlock, Amount: amount,
		ReferenceType: referenceType, ReferenceID: referenceID, Description: description,
	})
}

// Transfer moves available funds between two wallets atomically. Both
// wallet rows are locked in canonical order (by user id) inside one
// storage transaction to avoid deadlock. Transfers never overdraft.
func (e *Engine) Transfer(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, referenceType, referenceID, description string) error {
	done := observeOp("transfer")

	if amount.Sign() <= 0 {
		done(ErrInvalidAmount)
		return ErrInvalidAmount
	}
	if fromUserID == toUserID {
		done(ErrSameWallet)
		return ErrSameWallet
	}

	err := e.store.ApplyTransfer(ctx, fromUserID, toUserID, func(from, to *Wallet) ([]*Entry, error) {
		if from.Available.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		from.Available = from.Available.Sub(amount)

		offset := decimal.Min(amount, to.Negative)
		to.Negative = to.Negative.Sub(offset)
		to.Available = to.Available.Add(amount.Sub(offset))

		now := time.Now().UTC()
		return []*Entry{
			{
				ID: idgen.WithPrefix("ent_"), UserID: fromUserID, Type: EntryDebit,
				Amount: amount.Neg(), BalanceAfter: from.Available,
				ReferenceType: referenceType, ReferenceID: referenceID,
				Description: description, CreatedAt: now,
			},
			{
				ID: idgen.WithPrefix("ent_"), UserID: toUserID, Type: EntryCredit,
				Amount: amount, BalanceAfter: to.Available,
				ReferenceType: referenceType, ReferenceID: referenceID,
				Description: description, CreatedAt: now,
			},
		}, nil
	})
	done(err)
	return err
}

// mutate applies one operation to a wallet in place and returns the
// amount to record on the entry.
func mutate(w *Wallet, entryType EntryType, amount, overdraftLimit decimal.Decimal) (decimal.Decimal, error) {
	switch entryType {
	case EntryCredit:
		// Offset any uncollected deficit before crediting available.
		offset := decimal.Min(amount, w.Negative)
		w.Negative = w.Negative.Sub(offset)
		w.Available = w.Available.Add(amount.Sub(offset))
		return amount, nil

	case EntryDebit:
		if w.Available.GreaterThanOrEqual(amount) {
			w.Available = w.Available.Sub(amount)
			return amount.Neg(), nil
		}
		shortfall := amount.Sub(w.Available)
		if w.Negative.Add(shortfall).GreaterThan(overdraftLimit) {
			return decimal.Zero, ErrOverdraftLimitExceeded
		}
		w.Available = decimal.Zero
		w.Negative = w.Negative.Add(shortfall)
		return amount.Neg(), nil

	case EntryLock:
		if w.Available.LessThan(amount) {
			return decimal.Zero, ErrInsufficientFunds
		}
		w.Available = w.Available.Sub(amount)
		w.Locked = w.Locked.Add(amount)
		return amount, nil

	case EntryUnlock:
		if w.Locked.LessThan(amount) {
			return decimal.Zero, ErrInsufficientLockedFunds
		}
		w.Locked = w.Locked.Sub(amount)
		w.Available = w.Available.Add(amount)
		return amount, nil
	}
	return decimal.Zero, ErrInvalidTransactionType
}
