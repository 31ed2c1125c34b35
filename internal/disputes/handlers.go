package disputes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bazaarpay/walletd/internal/locks"
	"github.com/bazaarpay/walletd/internal/validation"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	resolver *Resolver
}

// NewHandler creates a new dispute handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// RegisterRoutes sets up dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
	r.GET("/locks/:id/disputes", h.ListByLock)
}

// OpenDispute handles POST /v1/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	req.Reason = validation.SanitizeString(req.Reason, 255)
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)

	d, err := h.resolver.Open(c.Request.Context(), req)
	if err != nil {
		status, code := disputeErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.resolver.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := disputeErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	req.Reason = validation.SanitizeString(req.Reason, 255)

	d, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		status, code := disputeErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListByLock handles GET /v1/locks/:id/disputes
func (h *Handler) ListByLock(c *gin.Context) {
	result, err := h.resolver.ListByLock(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list disputes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": result, "count": len(result)})
}

func disputeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		return http.StatusNotFound, "dispute_not_found"
	case errors.Is(err, ErrDisputeAlreadyResolved):
		return http.StatusConflict, "dispute_already_resolved"
	case errors.Is(err, ErrUnknownResolution):
		return http.StatusBadRequest, "unknown_resolution"
	case errors.Is(err, ErrCounterpartyUnknown):
		return http.StatusUnprocessableEntity, "counterparty_unknown"
	case errors.Is(err, locks.ErrLockNotFound):
		return http.StatusNotFound, "lock_not_found"
	case errors.Is(err, locks.ErrLockNotActive):
		return http.StatusConflict, "lock_not_active"
	case errors.Is(err, locks.ErrLockNotDisputed):
		return http.StatusConflict, "lock_not_disputed"
	case errors.Is(err, locks.ErrAmountExceedsLock):
		return http.StatusBadRequest, "amount_exceeds_lock"
	case errors.Is(err, locks.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	default:
		return http.StatusInternalServerError, "dispute_error"
	}
}
