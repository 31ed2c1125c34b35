// Package gateway implements payout gateway clients: an HTTP client for
// a bank/UPI payout provider, a Stripe-backed implementation, and a
// scripted mock for development mode.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bazaarpay/walletd/internal/withdrawal"
)

// Client talks to an HTTP JSON payout API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a payout API client. The token is sent as a bearer
// credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transferPayload struct {
	TransferID  string      `json:"transferId"`
	Amount      string      `json:"amount"`
	Currency    string      `json:"currency"`
	Mode        string      `json:"mode"`
	Beneficiary beneficiary `json:"beneficiary"`
}

type beneficiary struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	UPIAddress    string `json:"upiAddress,omitempty"`
}

type transferResponse struct {
	GatewayTransferID string `json:"gatewayTransferId"`
	Status            string `json:"status"`
	Message           string `json:"message"`
}

// InitiateTransfer submits a payout order. Transport failures and 5xx
// responses are reported as transient so the withdrawal stays pending;
// 4xx responses are terminal rejections.
func (c *Client) InitiateTransfer(ctx context.Context, req withdrawal.TransferRequest) (*withdrawal.TransferResult, error) {
	payload := transferPayload{
		TransferID: req.TransferID,
		Amount:     req.Amount.StringFixed(2),
		Currency:   "INR",
		Mode:       string(req.Method),
		Beneficiary: beneficiary{
			Name:          req.Destination.Name,
			AccountNumber: req.Destination.AccountNumber,
			IFSC:          req.Destination.IFSC,
			UPIAddress:    req.Destination.UPIAddress,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", withdrawal.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: payout API returned status %d", withdrawal.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var failure transferResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&failure); err == nil && failure.Message != "" {
			return nil, fmt.Errorf("%w: %s", withdrawal.ErrTransferDeclined, failure.Message)
		}
		return nil, fmt.Errorf("%w: payout API returned status %d", withdrawal.ErrTransferDeclined, resp.StatusCode)
	}

	var result transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode transfer response: %v", withdrawal.ErrGatewayUnavailable, err)
	}
	if result.GatewayTransferID == "" {
		return nil, fmt.Errorf("%w: transfer response missing gatewayTransferId", withdrawal.ErrGatewayUnavailable)
	}

	return &withdrawal.TransferResult{
		GatewayTransferID: result.GatewayTransferID,
		Status:            result.Status,
	}, nil
}
