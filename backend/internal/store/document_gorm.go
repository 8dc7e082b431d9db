package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

type gormDocumentRepo struct {
	db *gorm.DB
}

var _ repo.DocumentRepo = (*gormDocumentRepo)(nil)

func NewGormDocumentRepo(db *gorm.DB) repo.DocumentRepo {
	return &gormDocumentRepo{db: db}
}

func (r *gormDocumentRepo) GetDocument(ctx context.Context, docID string) (*entity.Document, error) {
	return getDocument(r.db.WithContext(ctx), docID)
}

func getDocument(db *gorm.DB, docID string) (*entity.Document, error) {
	var doc entity.Document
	err := db.Where("id = ?", docID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepo) GetCollaborator(ctx context.Context, docID, userID string) (*entity.DocumentCollaborator, error) {
	var c entity.DocumentCollaborator
	err := r.db.WithContext(ctx).Where("document_id = ? AND user_id = ?", docID, userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormDocumentRepo) CreateDocument(ctx context.Context, doc *entity.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *gormDocumentRepo) AddCollaborator(ctx context.Context, c *entity.DocumentCollaborator) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if isDuplicate(err) {
		return repo.ErrCollaboratorExists
	}
	return err
}

// unlockedOr matches rows the given user may write: not locked, or locked by them.
const unlockedOr = "id = ? AND (is_locked = ? OR locked_by IS NULL OR locked_by = ?)"

func (r *gormDocumentRepo) AcquireLock(ctx context.Context, docID, userID string, now time.Time) (*entity.Document, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&entity.Document{}).
		Where(unlockedOr, docID, false, userID).
		Updates(map[string]any{"is_locked": true, "locked_by": userID, "locked_at": now})
	if res.Error != nil {
		return nil, res.Error
	}

	doc, err := getDocument(db, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, repo.ErrDocumentNotFound
	}
	if res.RowsAffected == 0 && heldByOther(doc, userID) {
		return nil, repo.ErrLockHeld
	}
	return doc, nil
}

func heldByOther(doc *entity.Document, userID string) bool {
	return doc.IsLocked && doc.LockedBy != nil && *doc.LockedBy != userID
}

func (r *gormDocumentRepo) ReleaseLock(ctx context.Context, docID string, holder *string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.Document{}).
		Where("id = ? AND locked_by <=> ?", docID, holder).
		Updates(map[string]any{"is_locked": false, "locked_by": nil, "locked_at": nil})
	return res.RowsAffected > 0, res.Error
}

func (r *gormDocumentRepo) ReleaseExpiredLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.Document{}).
		Where("is_locked = ? AND locked_at < ?", true, cutoff).
		Updates(map[string]any{"is_locked": false, "locked_by": nil, "locked_at": nil})
	return res.RowsAffected, res.Error
}

func (r *gormDocumentRepo) SaveContent(ctx context.Context, docID, content string, editor entity.DocumentEditHistory, now time.Time) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.Document{}).
			Where(unlockedOr, docID, false, editor.UserID).
			Updates(map[string]any{
				"content":        content,
				"version":        gorm.Expr("version + 1"),
				"edit_count":     gorm.Expr("edit_count + 1"),
				"last_edited_by": editor.UserID,
				"last_edited_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		doc, err := getDocument(tx, docID)
		if err != nil {
			return err
		}
		if doc == nil {
			return repo.ErrDocumentNotFound
		}
		if res.RowsAffected == 0 {
			return repo.ErrLockHeld
		}
		version = doc.Version

		h := editor
		h.DocumentID = docID
		h.Action = entity.ActionEdit
		h.Version = version
		h.CreatedAt = now
		return appendHistory(tx, &h)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (r *gormDocumentRepo) AppendHistory(ctx context.Context, h *entity.DocumentEditHistory) error {
	return appendHistory(r.db.WithContext(ctx), h)
}

func appendHistory(db *gorm.DB, h *entity.DocumentEditHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return db.Create(h).Error
}

func (r *gormDocumentRepo) ListHistory(ctx context.Context, docID string, limit int) ([]entity.DocumentEditHistory, error) {
	var out []entity.DocumentEditHistory
	err := r.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
