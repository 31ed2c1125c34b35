package gateway

import (
	"context"
	"sync"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/bazaarpay/walletd/internal/withdrawal"
)

// Mock is an always-accepting in-process gateway for demo/development
// mode. An error can be scripted for the next call.
type Mock struct {
	mu      sync.Mutex
	nextErr error
	calls   []withdrawal.TransferRequest
}

// NewMock creates a mock payout gateway.
func NewMock() *Mock {
	return &Mock{}
}

// FailNext makes the next InitiateTransfer call return err.
func (m *Mock) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextErr = err
}

// Calls returns the transfer requests seen so far.
func (m *Mock) Calls() []withdrawal.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]withdrawal.TransferRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) InitiateTransfer(ctx context.Context, req withdrawal.TransferRequest) (*withdrawal.TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.nextErr != nil {
		err := m.nextErr
		m.nextErr = nil
		return nil, err
	}
	return &withdrawal.TransferResult{
		GatewayTransferID: idgen.WithPrefix("mocktx_"),
		Status:            "ACCEPTED",
	}, nil
}
