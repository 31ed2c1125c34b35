package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/pagination"
	"github.com/bazaarpay/walletd/internal/validation"
)

// Handler provides HTTP endpoints for wallet and ledger operations
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes sets up wallet routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:user_id/balance", h.GetBalance)
	r.GET("/wallets/:user_id/entries", h.GetEntries)
	r.POST("/wallets/:user_id/transactions", h.CreateTransaction)
	r.POST("/transfers", h.CreateTransfer)
}

// GetBalance handles GET /wallets/:user_id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	w, err := h.engine.Balance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_error", "message": "Failed to retrieve balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    w.UserID,
		"available":  w.Available,
		"locked":     w.Locked,
		"negative":   w.Negative,
		"updated_at": w.UpdatedAt,
	})
}

// GetEntries handles GET /wallets/:user_id/entries
func (h *Handler) GetEntries(c *gin.Context) {
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, nextCursor, hasMore, err := h.engine.HistoryPage(c.Request.Context(), userID, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is malformed"})
			return
		}
		h.logger.Error("entry listing failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_error", "message": "Failed to retrieve entries"})
		return
	}

	resp := gin.H{"user_id": userID, "entries": entries, "count": len(entries), "has_more": hasMore}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

type transactionRequest struct {
	Type          string          `json:"type" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	ExternalTxID  string          `json:"external_tx_id"`
	Description   string          `json:"description"`
}

// CreateTransaction handles POST /wallets/:user_id/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	entry, err := h.engine.Apply(c.Request.Context(), TransactionRequest{
		UserID:        userID,
		Type:          EntryType(req.Type),
		Amount:        req.Amount,
		ReferenceType: validation.SanitizeString(req.ReferenceType, 40),
		ReferenceID:   validation.SanitizeString(req.ReferenceID, 64),
		ExternalTxID:  validation.SanitizeString(req.ExternalTxID, 128),
		Description:   validation.SanitizeString(req.Description, 255),
	})
	if err != nil {
		status, code := transactionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, entry)
}

type transferRequest struct {
	FromUserID  string          `json:"from_user_id" binding:"required"`
	ToUserID    string          `json:"to_user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Reference   string          `json:"reference_id"`
	Description string          `json:"description"`
}

// CreateTransfer handles POST /transfers
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidUserID(req.FromUserID) || !validation.IsValidUserID(req.ToUserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	err := h.engine.Transfer(c.Request.Context(), req.FromUserID, req.ToUserID, req.Amount,
		"transfer", validation.SanitizeString(req.Reference, 64),
		validation.SanitizeString(req.Description, 255))
	if err != nil {
		status, code := transactionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"from_user_id": req.FromUserID,
		"to_user_id":   req.ToUserID,
		"amount":       req.Amount,
		"status":       "completed",
	})
}

func transactionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrInvalidTransactionType):
		return http.StatusBadRequest, "invalid_type"
	case errors.Is(err, ErrSameWallet):
		return http.StatusBadRequest, "same_wallet"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ErrInsufficientLockedFunds):
		return http.StatusConflict, "insufficient_locked_funds"
	case errors.Is(err, ErrOverdraftLimitExceeded):
		return http.StatusConflict, "overdraft_limit_exceeded"
	default:
		return http.StatusInternalServerError, "transaction_error"
	}
}
