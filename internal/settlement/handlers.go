package settlement

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/validation"
)

// Handler provides HTTP endpoints for settlement operations.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler creates a new settlement handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// RegisterRoutes sets up settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/settlements", h.ScheduleSettlement)
	r.GET("/settlements/:id", h.GetSettlement)
	r.POST("/settlements/process-due", h.ProcessDue)
	r.GET("/wallets/:user_id/settlements", h.ListSettlements)
}

// ScheduleSettlement handles POST /v1/settlements
func (h *Handler) ScheduleSettlement(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("seller_id", req.SellerID),
		validation.ValidAmount("order_amount", req.OrderAmount.String()),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	req.ReferenceID = validation.SanitizeString(req.ReferenceID, 64)

	settlement, err := h.scheduler.Schedule(c.Request.Context(), req)
	if err != nil {
		status, code := settlementErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, settlement)
}

// GetSettlement handles GET /v1/settlements/:id
func (h *Handler) GetSettlement(c *gin.Context) {
	settlement, err := h.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := settlementErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settlement)
}

// ProcessDue handles POST /v1/settlements/process-due, a manual trigger
// for the same pass the timer runs.
func (h *Handler) ProcessDue(c *gin.Context) {
	processed, failed := h.scheduler.ProcessDue(c.Request.Context(), time.Now().UTC())
	c.JSON(http.StatusOK, gin.H{"processedCount": processed, "failedCount": failed})
}

// ListSettlements handles GET /v1/wallets/:user_id/settlements
func (h *Handler) ListSettlements(c *gin.Context) {
	sellerID := c.Param("user_id")
	if !validation.IsValidUserID(sellerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	settlements, err := h.scheduler.ListBySeller(c.Request.Context(), sellerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list settlements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sellerId": sellerID, "settlements": settlements, "count": len(settlements)})
}

func settlementErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSettlementNotFound):
		return http.StatusNotFound, "settlement_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrNegativeNetAmount):
		return http.StatusUnprocessableEntity, "negative_net_amount"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
