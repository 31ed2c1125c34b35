package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/validation"
)

// Handler provides HTTP endpoints for withdrawal operations.
type Handler struct {
	processor *Processor
}

// NewHandler creates a new withdrawal handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// RegisterRoutes sets up withdrawal routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.RequestWithdrawal)
	r.GET("/withdrawals/:id", h.GetWithdrawal)
	r.POST("/withdrawals/:id/process", h.ProcessWithdrawal)
	r.GET("/wallets/:user_id/withdrawals", h.ListWithdrawals)
	r.POST("/payouts/callback", h.PayoutCallback)
}

// RequestWithdrawal handles POST /v1/withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var input RequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("user_id", input.UserID),
		validation.ValidAmount("amount", input.Amount.String()),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	input.Destination.Name = validation.SanitizeString(input.Destination.Name, 255)
	input.Destination.AccountNumber = validation.SanitizeString(input.Destination.AccountNumber, 64)
	input.Destination.IFSC = validation.SanitizeString(input.Destination.IFSC, 20)
	input.Destination.UPIAddress = validation.SanitizeString(input.Destination.UPIAddress, 255)

	request, err := h.processor.Request(c.Request.Context(), input)
	if err != nil {
		status, code := withdrawalErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, request)
}

// GetWithdrawal handles GET /v1/withdrawals/:id
func (h *Handler) GetWithdrawal(c *gin.Context) {
	request, err := h.processor.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := withdrawalErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, request)
}

// ProcessWithdrawal handles POST /v1/withdrawals/:id/process
func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	request, err := h.processor.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := withdrawalErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, request)
}

// ListWithdrawals handles GET /v1/wallets/:user_id/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	requests, err := h.processor.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list withdrawals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "withdrawals": requests, "count": len(requests)})
}

type payoutCallbackRequest struct {
	TransferID  string `json:"transferId" binding:"required"`
	Status      string `json:"status" binding:"required"`
	ExternalRef string `json:"externalRef"`
	Reason      string `json:"reason"`
}

// PayoutCallback handles POST /v1/payouts/callback, the gateway's
// asynchronous outcome notification.
func (h *Handler) PayoutCallback(c *gin.Context) {
	var req payoutCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	request, err := h.processor.HandlePayoutCallback(c.Request.Context(),
		req.TransferID, req.Status,
		validation.SanitizeString(req.ExternalRef, 128),
		validation.SanitizeString(req.Reason, 500))
	if err != nil {
		status, code := withdrawalErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, request)
}

func withdrawalErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		return http.StatusNotFound, "withdrawal_not_found"
	case errors.Is(err, ErrWithdrawalNotPending):
		return http.StatusConflict, "withdrawal_not_pending"
	case errors.Is(err, ErrWithdrawalNotProcessing):
		return http.StatusConflict, "withdrawal_not_processing"
	case errors.Is(err, ErrBelowMinimum):
		return http.StatusBadRequest, "below_minimum_withdrawal"
	case errors.Is(err, ErrInvalidMethod):
		return http.StatusBadRequest, "invalid_method"
	case errors.Is(err, ErrDailyLimitExceeded):
		return http.StatusUnprocessableEntity, "withdrawal_limit_exceeded"
	case errors.Is(err, ErrUnknownOutcome):
		return http.StatusBadRequest, "unknown_outcome"
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
