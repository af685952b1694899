package middleware

import (
	"errors"
	"net/http"

	"github.com/citylens/citylens/pkg/auth"

	"github.com/gin-gonic/gin"
)

// apiKeyHeader carries the producer credential. The raw key never reaches
// handlers; only the derived identity is placed in the request context.
const apiKeyHeader = "X-API-Key"

const identityContextKey = "userID"

// AuthMiddleware validates the API key header and attaches the caller's
// stable identity. An unconfigured validator rejects everything with 500
// rather than admitting anonymous callers.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := validator.Validate(c.GetHeader(apiKeyHeader))
		if err != nil {
			if errors.Is(err, auth.ErrNotConfigured) {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication not configured"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Set(identityContextKey, identity.UserID)
		c.Next()
	}
}

// UserID returns the authenticated caller's identity set by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(identityContextKey)
}
