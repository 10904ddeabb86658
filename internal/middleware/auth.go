package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"timeout/api/internal/config"
	"timeout/api/internal/docstore"
	"timeout/api/internal/models"
	"timeout/api/internal/security"
)

// ContextUserID is the gin context key the auth middleware stores the
// resolved caller id under.
const ContextUserID = "user_id"

// Auth resolves the caller from the identity-provider session token. A
// missing profile is not an error here: provisioning happens through the
// webhook and may still be in flight on a first request.
func Auth(cfg *config.AppConfig, store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":      false,
				"errorCode":    "unauthenticated",
				"errorMessage": "missing token",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := security.ParseIdentityToken(tokenStr, cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":      false,
				"errorCode":    "unauthenticated",
				"errorMessage": "invalid token",
			})
			return
		}

		var profile models.UserProfile
		err = store.Get(c.Request.Context(), docstore.CollectionUsers, claims.UserID, &profile)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success":      false,
				"errorCode":    "internal",
				"errorMessage": "internal error",
			})
			return
		case !profile.IsActive:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success":      false,
				"errorCode":    "permission-denied",
				"errorMessage": "account is deactivated",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}
