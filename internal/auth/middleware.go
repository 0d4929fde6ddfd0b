package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-telephony/pkg/logger"
)

// Verifier checks a raw token. *Manager implements it.
type Verifier interface {
	Verify(token string, expected TokenType, now time.Time) (Claims, error)
}

// bearer extracts the token from "Authorization: Bearer <token>". The scheme
// is matched case-insensitively.
func bearer(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// RequireAccessToken verifies the access token and installs the caller's
// Identity on the request context. Role checks belong to internal/rbac.
func RequireAccessToken(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Warn("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		logger.Enrich(c, "user_id", id.UserID, "role", id.Role)
		c.Next()
	}
}
