package middleware

import (
	"net/http"
	"strings"

	"opsdesk-backend/pkg/auth"

	"github.com/gin-gonic/gin"
)

func reject(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
	c.Abort()
}

// AuthMiddleware validates the bearer token and stashes the caller's identity
// in the gin context under user_id, user_email and is_admin.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			reject(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			reject(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("is_admin", claims.IsAdmin)
		c.Next()
	}
}

// AdminMiddleware gates admin-only routes. Must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, _ := c.Get("is_admin"); isAdmin != true {
			reject(c, http.StatusForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}
