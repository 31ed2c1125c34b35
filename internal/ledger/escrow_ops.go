package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/idgen"
)

// Escrow-shaped convenience operations consumed by the lock manager.
// They return plain errors so callers can depend on a narrow interface
// without importing this package's entry types.

// EscrowLock moves funds from available to locked against a lock id.
func (e *Engine) EscrowLock(ctx context.Context, userID string, amount decimal.Decimal, referenceID string) error {
	_, err := e.Lock(ctx, userID, amount, "escrow", referenceID, "escrow hold")
	return err
}

// ReleaseEscrow returns locked funds to the owner's available balance.
func (e *Engine) ReleaseEscrow(ctx context.Context, userID string, amount decimal.Decimal, referenceID string) error {
	_, err := e.Unlock(ctx, userID, amount, "escrow", referenceID, "escrow release")
	return err
}

// SettleEscrow moves the full locked amount to the counterparty's
// wallet in one storage transaction.
func (e *Engine) SettleEscrow(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, referenceID string) error {
	return e.PartialEscrowSettle(ctx, fromUserID, toUserID, decimal.Zero, amount, referenceID)
}

// PartialEscrowSettle splits a locked amount between the owner and a
// counterparty atomically. ownerAmount returns to the owner's available
// balance; counterpartyAmount is paid out to the counterparty, repaying
// any deficit there first. The total is drawn from the owner's locked
// balance in a single transaction, so no intermediate state where the
// funds sit in the owner's available balance is observable.
func (e *Engine) PartialEscrowSettle(ctx context.Context, fromUserID, toUserID string, ownerAmount, counterpartyAmount decimal.Decimal, referenceID string) error {
	done := observeOp("escrow_settle")

	total := ownerAmount.Add(counterpartyAmount)
	if total.Sign() <= 0 || ownerAmount.Sign() < 0 || counterpartyAmount.Sign() < 0 {
		done(ErrInvalidAmount)
		return ErrInvalidAmount
	}
	if fromUserID == toUserID {
		done(ErrSameWallet)
		return ErrSameWallet
	}

	err := e.store.ApplyTransfer(ctx, fromUserID, toUserID, func(from, to *Wallet) ([]*Entry, error) {
		if from.Locked.LessThan(total) {
			return nil, ErrInsufficientLockedFunds
		}
		from.Locked = from.Locked.Sub(total)
		from.Available = from.Available.Add(ownerAmount)

		offset := decimal.Min(counterpartyAmount, to.Negative)
		to.Negative = to.Negative.Sub(offset)
		to.Available = to.Available.Add(counterpartyAmount.Sub(offset))

		now := time.Now().UTC()
		entries := []*Entry{
			{
				ID: idgen.WithPrefix("ent_"), UserID: fromUserID, Type: EntryUnlock,
				Amount: total, BalanceAfter: from.Available.Add(counterpartyAmount),
				ReferenceType: "escrow", ReferenceID: referenceID,
				Description: "escrow settlement", CreatedAt: now,
			},
		}
		if counterpartyAmount.Sign() > 0 {
			entries = append(entries,
				&Entry{
					ID: idgen.WithPrefix("ent_"), UserID: fromUserID, Type: EntryDebit,
					Amount: counterpartyAmount.Neg(), BalanceAfter: from.Available,
					ReferenceType: "escrow", ReferenceID: referenceID,
					Description: "escrow settlement payout", CreatedAt: now,
				},
				&Entry{
					ID: idgen.WithPrefix("ent_"), UserID: toUserID, Type: EntryCredit,
					Amount: counterpartyAmount, BalanceAfter: to.Available,
					ReferenceType: "escrow", ReferenceID: referenceID,
					Description: "escrow settlement receipt", CreatedAt: now,
				},
			)
		}
		return entries, nil
	})
	done(err)
	return err
}
