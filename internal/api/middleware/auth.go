package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prdflow/orchestrator/internal/logger"
)

// BearerAuth returns a middleware that requires the shared-secret bearer
// token on mutation endpoints. Callers are trusted services (the webhook
// submitter and launched workers), not end users.
// Parameters:
//   - secret: shared webhook secret.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func BearerAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.CtxWarn(c.Request.Context(), "Unauthorized request: method=%s, path=%s, client_ip=%s",
				c.Request.Method, c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
