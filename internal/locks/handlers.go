package locks

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/validation"
)

// Handler provides HTTP endpoints for escrow hold operations.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new lock handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up lock routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/locks", h.CreateLock)
	r.GET("/locks/:id", h.GetLock)
	r.POST("/locks/:id/release", h.ReleaseLock)
	r.POST("/locks/auto-release", h.AutoRelease)
	r.GET("/wallets/:user_id/locks", h.ListLocks)
}

// CreateLock handles POST /v1/locks
func (h *Handler) CreateLock(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("user_id", req.UserID),
		validation.Required("reason", req.Reason),
		validation.ValidAmount("amount", req.Amount.String()),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}

	lock, err := h.manager.Lock(c.Request.Context(), req)
	if err != nil {
		status, code := lockErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, lock)
}

// GetLock handles GET /v1/locks/:id
func (h *Handler) GetLock(c *gin.Context) {
	lock, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := lockErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lock)
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

// ReleaseLock handles POST /v1/locks/:id/release
func (h *Handler) ReleaseLock(c *gin.Context) {
	var req releaseRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual release"
	}

	lock, err := h.manager.Release(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Reason, 255))
	if err != nil {
		status, code := lockErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lock)
}

type autoReleaseRequest struct {
	ReferenceID   string `json:"referenceId" binding:"required"`
	ConditionType string `json:"conditionType" binding:"required"`
}

// AutoRelease handles POST /v1/locks/auto-release, invoked by the
// order/deal workflow when its state machine reaches a terminal point.
func (h *Handler) AutoRelease(c *gin.Context) {
	var req autoReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	released, err := h.manager.CheckAutomaticRelease(c.Request.Context(), req.ReferenceID, req.ConditionType)
	if err != nil {
		status, code := lockErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"releasedCount": released})
}

// ListLocks handles GET /v1/wallets/:user_id/locks
func (h *Handler) ListLocks(c *gin.Context) {
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

	result, err := h.manager.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list locks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": result, "count": len(result)})
}

func lockErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrLockNotFound):
		return http.StatusNotFound, "lock_not_found"
	case errors.Is(err, ErrLockNotActive):
		return http.StatusConflict, "lock_not_active"
	case errors.Is(err, ErrLockNotDisputed):
		return http.StatusConflict, "lock_not_disputed"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrAmountExceedsLock):
		return http.StatusBadRequest, "amount_exceeds_lock"
	case errors.Is(err, ErrInvalidCondition):
		return http.StatusBadRequest, "invalid_condition"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	default:
		return http.StatusInternalServerError, "lock_error"
	}
}
