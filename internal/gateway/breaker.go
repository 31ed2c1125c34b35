package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bazaarpay/walletd/internal/circuitbreaker"
	"github.com/bazaarpay/walletd/internal/withdrawal"
)

const breakerKey = "payout_gateway"

// BreakerGateway wraps a payout gateway with a circuit breaker. After
// repeated transient failures the circuit opens and calls fail fast as
// gateway-unavailable instead of piling timeouts onto a dead provider.
// Declined transfers count as provider answers, not failures.
type BreakerGateway struct {
	next    withdrawal.PayoutGateway
	breaker *circuitbreaker.Breaker
}

// NewBreakerGateway wraps next with a circuit breaker that opens after
// threshold consecutive transient failures and probes again after
// openDuration.
func NewBreakerGateway(next withdrawal.PayoutGateway, threshold int, openDuration time.Duration) *BreakerGateway {
	return &BreakerGateway{
		next:    next,
		breaker: circuitbreaker.New(threshold, openDuration),
	}
}

// InitiateTransfer forwards to the wrapped gateway when the circuit
// allows it.
func (g *BreakerGateway) InitiateTransfer(ctx context.Context, req withdrawal.TransferRequest) (*withdrawal.TransferResult, error) {
	if !g.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("%w: circuit open", withdrawal.ErrGatewayUnavailable)
	}

	result, err := g.next.InitiateTransfer(ctx, req)
	if err != nil {
		if errors.Is(err, withdrawal.ErrGatewayUnavailable) {
			g.breaker.RecordFailure(breakerKey)
		} else {
			// A decline is the provider answering; the circuit stays closed.
			g.breaker.RecordSuccess(breakerKey)
		}
		return nil, err
	}

	g.breaker.RecordSuccess(breakerKey)
	return result, nil
}

// State exposes the circuit state for health reporting.
func (g *BreakerGateway) State() circuitbreaker.State {
	return g.breaker.State(breakerKey)
}
