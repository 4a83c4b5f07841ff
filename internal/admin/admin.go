// Package admin provides operator endpoints for inspecting orders and
// resolving failed deliveries. Every route sits behind RequireSecret.
package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/packshop/internal/logging"
)

const (
	SecretHeader = "X-Admin-Secret"
	// legacyHeader is still sent by the original storefront admin page.
	legacyHeader = "X-Admin-Pass"
)

// RequireSecret rejects requests whose admin header does not match
// secret. An empty secret disables the admin surface entirely.
func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin endpoints are not configured",
			})
			return
		}

		got := c.GetHeader(SecretHeader)
		if got == "" {
			got = c.GetHeader(legacyHeader)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			logging.L(c.Request.Context()).Warn("admin authentication failed",
				"security_event", true, "path", c.FullPath(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}
