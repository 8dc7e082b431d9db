package authservice

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type RefreshReq struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Refresh exchanges a refresh token for a new access token. Identity comes
// from the token itself; there is no account lookup.
func Refresh(secret []byte, accessTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefreshReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
			return
		}
		claims, err := ParseToken(secret, req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		if claims.Type != TypeRefresh {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token required"})
			return
		}
		tok, _, err := SignAccessToken(secret, claims.UserID, claims.Username, claims.Role, accessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign access token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"accessToken": tok,
			"expiresIn":   int(accessTTL / time.Second),
			"tokenType":   "Bearer",
			"user":        gin.H{"id": claims.UserID, "username": claims.Username},
		})
	}
}
