package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"collabdoc/backend/internal/httpapi/middleware"
	"collabdoc/backend/internal/lock"
	"collabdoc/backend/internal/presence"
	"collabdoc/backend/internal/repo"
)

type DocumentHandler struct {
	docs     repo.DocumentRepo
	locks    *lock.Manager
	presence *presence.Tracker
	logger   zerolog.Logger
}

func NewDocumentHandler(docs repo.DocumentRepo, locks *lock.Manager, tracker *presence.Tracker, logger zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, locks: locks, presence: tracker, logger: logger}
}

func actorOrAbort(c *gin.Context) (lock.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return actor, ok
}

func (h *DocumentHandler) withActor(fn func(c *gin.Context, docID string, actor lock.Actor)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor, ok := actorOrAbort(c); ok {
			fn(c, c.Param("id"), actor)
		}
	}
}

// Lock handles POST /documents/:id/lock.
func (h *DocumentHandler) Lock() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		l, err := h.locks.Acquire(c.Request.Context(), docID, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":   "locked",
			"locked_by": l.HolderID,
			"locked_at": l.AcquiredAt.Format(time.RFC3339),
		})
	})
}

// Unlock handles POST /documents/:id/unlock.
func (h *DocumentHandler) Unlock() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		if err := h.locks.Release(c.Request.Context(), docID, actor); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "unlocked"})
	})
}

type presenceReq struct {
	CursorPosition *int `json:"cursor_position"`
	SelectionStart *int `json:"selection_start"`
	SelectionEnd   *int `json:"selection_end"`
}

// Presence handles POST /documents/:id/presence. Fields may come in a JSON
// body or as query parameters.
func (h *DocumentHandler) Presence() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		var req presenceReq
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for key, dst := range map[string]**int{
			"cursor_position": &req.CursorPosition,
			"selection_start": &req.SelectionStart,
			"selection_end":   &req.SelectionEnd,
		} {
			if *dst != nil {
				continue
			}
			if raw := c.Query(key); raw != "" {
				v, err := strconv.Atoi(raw)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
					return
				}
				*dst = &v
			}
		}

		err := h.presence.Heartbeat(c.Request.Context(), presence.Heartbeat{
			DocumentID:     docID,
			UserID:         actor.UserID,
			UserName:       actor.UserName,
			CursorPosition: req.CursorPosition,
			SelectionStart: req.SelectionStart,
			SelectionEnd:   req.SelectionEnd,
		})
		if err != nil {
			h.logger.Error().Err(err).Str("doc", docID).Msg("heartbeat failed")
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}

// OnlineUsers handles GET /documents/:id/online-users.
func (h *DocumentHandler) OnlineUsers() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		if _, err := h.locks.Authorize(c.Request.Context(), docID, actor, lock.ActionView); err != nil {
			writeError(c, err)
			return
		}
		users, err := h.presence.ListOnline(c.Request.Context(), docID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})
}

type contentReq struct {
	Content *string `json:"content" binding:"required"`
}

// PutContent handles PUT /documents/:id/content.
func (h *DocumentHandler) PutContent() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		var req contentReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := h.locks.SaveContent(c.Request.Context(), docID, *req.Content, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "saved", "version": v})
	})
}

// GetContent handles GET /documents/:id/content.
func (h *DocumentHandler) GetContent() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		doc, err := h.locks.Content(c.Request.Context(), docID, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"content":        doc.Content,
			"version":        doc.Version,
			"updated_at":     doc.UpdatedAt,
			"last_edited_by": doc.LastEditedBy,
		})
	})
}

// Register mounts the document routes on g. g must already run AuthMiddleware.
func (h *DocumentHandler) Register(g gin.IRoutes) {
	g.POST("/documents", h.CreateDocument())
	g.POST("/documents/:id/collaborators", h.AddCollaborator())
	g.GET("/documents/:id/history", h.History())
	g.POST("/documents/:id/lock", h.Lock())
	g.POST("/documents/:id/unlock", h.Unlock())
	g.POST("/documents/:id/presence", h.Presence())
	g.GET("/documents/:id/online-users", h.OnlineUsers())
	g.PUT("/documents/:id/content", h.PutContent())
	g.GET("/documents/:id/content", h.GetContent())
}
