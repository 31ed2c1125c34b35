// Package admin provides operator-only endpoints: tier assignment,
// on-demand reconciliation, and manual triggers for the background
// sweeps.
package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecretMiddleware rejects requests whose X-Admin-Secret header does not
// match the configured secret. An empty secret rejects everything; the
// server only mounts admin routes when a secret is set.
func SecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin_disabled", "message": "Admin endpoints are not configured"})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid admin secret"})
			return
		}
		c.Next()
	}
}
