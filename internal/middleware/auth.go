package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/auth"
)

// UserIDKey is the gin context key holding the authenticated user id (int64).
const UserIDKey = "userID"

// AuthMiddleware validates the Authorization header using the configured token validator.
func AuthMiddleware(validator auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}
