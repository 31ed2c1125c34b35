package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bazaarpay/walletd/internal/validation"
)

// Handler exposes reconciliation checks to operators.
type Handler struct {
	runner *Runner
}

// NewHandler creates a new reconciliation handler.
func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterRoutes sets up reconciliation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reconciliation/run", h.Run)
	r.GET("/reconciliation/wallets/:user_id", h.CheckWallet)
}

// Run handles POST /v1/reconciliation/run
func (h *Handler) Run(c *gin.Context) {
	result, err := h.runner.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CheckWallet handles GET /v1/reconciliation/wallets/:user_id
func (h *Handler) CheckWallet(c *gin.Context) {
	userID := c.Param("user_id")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "User id must be 1-64 alphanumeric characters"})
		return
	}

	result, err := h.runner.CheckWallet(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
