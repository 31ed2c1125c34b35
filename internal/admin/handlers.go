package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bazaarpay/walletd/internal/tiers"
	"github.com/bazaarpay/walletd/internal/validation"
)

// TierDirectory abstracts tier assignment for admin handlers.
// Satisfied by tiers.Registry.
type TierDirectory interface {
	VerificationTier(userID string) tiers.Tier
	SetTier(userID string, tier tiers.Tier) tiers.Tier
}

// SettlementProcessor triggers a due-settlement pass outside the timer.
type SettlementProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (processed int, failed int)
}

// LockSweeper triggers an expired-hold sweep outside the timer.
type LockSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (released int, failed []string)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	tierDir     TierDirectory
	settlements SettlementProcessor
	sweeper     LockSweeper
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithTiers sets the tier directory for tier assignment endpoints.
func (h *Handler) WithTiers(d TierDirectory) *Handler {
	h.tierDir = d
	return h
}

// WithSettlements sets the settlement processor for manual processing.
func (h *Handler) WithSettlements(s SettlementProcessor) *Handler {
	h.settlements = s
	return h
}

// WithLockSweeper sets the lock sweeper for manual sweeps.
func (h *Handler) WithLockSweeper(s LockSweeper) *Handler {
	h.sweeper = s
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:user_id/tier", h.getTier)
	r.PUT("/users/:user_id/tier", h.setTier)
	r.POST("/settlements/process-due", h.processDueSettlements)
	r.POST("/locks/sweep", h.sweepLocks)
}

// getTier returns a user's current verification tier.
func (h *Handler) getTier(c *gin.Context) {
	if h.tierDir == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tiers_not_configured", "message": "Tier directory not configured"})
		return
	}
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "tier": h.tierDir.VerificationTier(userID)})
}

type setTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// setTier assigns a user's verification tier.
func (h *Handler) setTier(c *gin.Context) {
	if h.tierDir == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tiers_not_configured", "message": "Tier directory not configured"})
		return
	}
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	var req setTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	// Parse folds unknown values to basic, so a round-trip mismatch
	// means the input was not a real tier.
	if tiers.Parse(req.Tier) != tiers.Tier(req.Tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "Tier must be one of premium, enhanced, standard, basic"})
		return
	}

	assigned := h.tierDir.SetTier(userID, tiers.Tier(req.Tier))
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "tier": assigned})
}

// processDueSettlements runs one settlement pass immediately.
func (h *Handler) processDueSettlements(c *gin.Context) {
	if h.settlements == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlements_not_configured", "message": "Settlement processor not configured"})
		return
	}

	processed, failed := h.settlements.ProcessDue(c.Request.Context(), time.Now().UTC())
	c.JSON(http.StatusOK, gin.H{"processed": processed, "failed": failed})
}

// sweepLocks releases expired holds immediately.
func (h *Handler) sweepLocks(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "locks_not_configured", "message": "Lock sweeper not configured"})
		return
	}

	released, failed := h.sweeper.SweepExpired(c.Request.Context(), time.Now().UTC())
	c.JSON(http.StatusOK, gin.H{"released": released, "failed": failed, "failed_count": len(failed)})
}
