package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/novameet/backend/pkg/response"
)

// RequireAdmin returns a middleware that allows only admin users.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextIsAdmin)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		isAdmin, _ := v.(bool)
		if !isAdmin {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
