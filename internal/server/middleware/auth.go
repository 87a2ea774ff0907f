package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// APIKeyAuth enforces an exact bearer-token match against the configured
// proxy API key. An empty key disables auth entirely, the loopback default.
// The key is read per request so config reloads take effect without a
// restart.
func APIKeyAuth(key func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := key()
		if expected == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != expected {
			unauthorized(c, "invalid API key")
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		protocol.NewErrorResponse(protocol.ErrTypeUnauthorized, message))
}
