package rbac

import (
	"net/http"

	"voice-telephony/internal/auth"
	"voice-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Require lets the request through when the caller's role holds perm.
// It must run after auth.RequireAccessToken: a missing identity answers 401,
// an unknown role or a missing grant 403.
func Require(perm Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allows(id.Role, perm) {
			logger.FromGin(c).Warn("permission denied", "permission", perm)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "permission": perm})
			return
		}
		c.Next()
	}
}
