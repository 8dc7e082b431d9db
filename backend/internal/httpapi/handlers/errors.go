package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"collabdoc/backend/internal/lock"
)

func writeError(c *gin.Context, err error) {
	var held *lock.HeldError
	switch {
	case errors.As(err, &held):
		c.JSON(http.StatusLocked, gin.H{"error": "document is being edited by another user", "locked_by": held.HolderID})
	case errors.Is(err, lock.ErrLockHeld):
		c.JSON(http.StatusLocked, gin.H{"error": "document is being edited by another user"})
	case errors.Is(err, lock.ErrNotPermitted):
		c.JSON(http.StatusLocked, gin.H{"error": err.Error()})
	case errors.Is(err, lock.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lock.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
