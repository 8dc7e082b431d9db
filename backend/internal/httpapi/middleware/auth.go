package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"collabdoc/backend/internal/authservice"
	"collabdoc/backend/internal/lock"
)

const (
	CtxUserID   = "userId"
	CtxUsername = "username"
	CtxRole     = "role"
)

// AuthMiddleware verifies an access token from the Authorization header or,
// for WebSocket upgrades where browsers cannot set headers, from ?token=.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c.Request.Header.Get("Authorization"))
		if tokenString == "" {
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "Authorization header is missing or invalid",
			})
			return
		}

		claims, err := authservice.ParseAccessToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": err.Error(),
			})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUsername, claims.Username)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// ActorFrom reads the identity AuthMiddleware stored on the context.
func ActorFrom(c *gin.Context) (lock.Actor, bool) {
	id := c.GetString(CtxUserID)
	if id == "" {
		return lock.Actor{}, false
	}
	name := c.GetString(CtxUsername)
	if name == "" {
		name = id
	}
	return lock.Actor{UserID: id, UserName: name, Role: c.GetString(CtxRole)}, true
}
