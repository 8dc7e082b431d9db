package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/lock"
	"collabdoc/backend/internal/repo"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type createDocumentReq struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
}

// CreateDocument handles POST /documents. The caller becomes the owner.
func (h *DocumentHandler) CreateDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorOrAbort(c)
		if !ok {
			return
		}
		var req createDocumentReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		doc := &entity.Document{
			ID:           uuid.NewString(),
			Title:        req.Title,
			OwnerID:      actor.UserID,
			OwnerName:    actor.UserName,
			Content:      req.Content,
			Version:      1,
			LastEditedBy: &actor.UserID,
			LastEditedAt: &now,
		}
		ctx := c.Request.Context()
		if err := h.docs.CreateDocument(ctx, doc); err != nil {
			writeError(c, err)
			return
		}
		h.recordHistory(ctx, &entity.DocumentEditHistory{
			DocumentID: doc.ID,
			UserID:     actor.UserID,
			UserName:   actor.UserName,
			Action:     entity.ActionCreate,
			Summary:    "created " + doc.Title,
			Version:    1,
			CreatedAt:  now,
		})
		c.JSON(http.StatusCreated, gin.H{
			"id":         doc.ID,
			"title":      doc.Title,
			"owner_id":   doc.OwnerID,
			"version":    doc.Version,
			"created_at": now.Format(time.RFC3339),
		})
	}
}

// recordHistory is best effort: the change it describes is already stored.
func (h *DocumentHandler) recordHistory(ctx context.Context, row *entity.DocumentEditHistory) {
	if err := h.docs.AppendHistory(ctx, row); err != nil {
		h.logger.Warn().Err(err).Str("doc", row.DocumentID).Str("action", row.Action).Msg("history write failed")
	}
}

type addCollaboratorReq struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role"`
}

// AddCollaborator handles POST /documents/:id/collaborators. Only the owner
// or an admin may share a document.
func (h *DocumentHandler) AddCollaborator() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		var req addCollaboratorReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role == "" {
			req.Role = entity.RoleEditor
		}
		if req.Role != entity.RoleEditor && req.Role != entity.RoleViewer {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be editor or viewer"})
			return
		}

		ctx := c.Request.Context()
		if _, err := h.locks.Authorize(ctx, docID, actor, lock.ActionManage); err != nil {
			writeError(c, err)
			return
		}
		err := h.docs.AddCollaborator(ctx, &entity.DocumentCollaborator{DocumentID: docID, UserID: req.UserID, Role: req.Role})
		if errors.Is(err, repo.ErrCollaboratorExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		h.recordHistory(ctx, &entity.DocumentEditHistory{
			DocumentID: docID,
			UserID:     actor.UserID,
			UserName:   actor.UserName,
			Action:     entity.ActionUpdate,
			Summary:    "added collaborator " + req.UserID + " (" + req.Role + ")",
			CreatedAt:  time.Now(),
		})
		c.JSON(http.StatusCreated, gin.H{"document_id": docID, "user_id": req.UserID, "role": req.Role})
	})
}

// History handles GET /documents/:id/history?limit=n.
func (h *DocumentHandler) History() gin.HandlerFunc {
	return h.withActor(func(c *gin.Context, docID string, actor lock.Actor) {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		ctx := c.Request.Context()
		if _, err := h.locks.Authorize(ctx, docID, actor, lock.ActionView); err != nil {
			writeError(c, err)
			return
		}
		rows, err := h.docs.ListHistory(ctx, docID, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		items := make([]gin.H, 0, len(rows))
		for _, r := range rows {
			items = append(items, gin.H{
				"id":         r.ID,
				"user_id":    r.UserID,
				"user_name":  r.UserName,
				"action":     r.Action,
				"summary":    r.Summary,
				"version":    r.Version,
				"created_at": r.CreatedAt.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})
}
