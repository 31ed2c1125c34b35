package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/bazaarpay/walletd/internal/withdrawal"
)

// Stripe amounts are integer minor units (paise for INR).
var decimalHundred = decimal.NewFromInt(100)

// StripeGateway executes payouts through Stripe.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a Stripe-backed payout gateway.
func NewStripeGateway(apiKey string) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api}
}

// InitiateTransfer creates a Stripe payout. The withdrawal id doubles
// as the idempotency key so a retried call never pays out twice.
func (g *StripeGateway) InitiateTransfer(ctx context.Context, req withdrawal.TransferRequest) (*withdrawal.TransferResult, error) {
	params := &stripe.PayoutParams{
		Amount:      stripe.Int64(req.Amount.Mul(decimalHundred).IntPart()),
		Currency:    stripe.String(string(stripe.CurrencyINR)),
		Description: stripe.String("withdrawal " + req.TransferID),
		Method:      stripe.String("standard"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.TransferID)

	payout, err := g.api.Payouts.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", withdrawal.ErrTransferDeclined, stripeErr.Msg)
		}
		return nil, fmt.Errorf("%w: %v", withdrawal.ErrGatewayUnavailable, err)
	}

	return &withdrawal.TransferResult{
		GatewayTransferID: payout.ID,
		Status:            string(payout.Status),
	}, nil
}
