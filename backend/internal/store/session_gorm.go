package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

type gormSessionRepo struct {
	db *gorm.DB
}

var _ repo.SessionRepo = (*gormSessionRepo)(nil)

func NewGormSessionRepo(db *gorm.DB) repo.SessionRepo {
	return &gormSessionRepo{db: db}
}

// UpsertHeartbeat keeps the previous cursor fields when the heartbeat does
// not carry them.
func (r *gormSessionRepo) UpsertHeartbeat(ctx context.Context, s *entity.CollaborationSession) error {
	cols := []string{"user_name", "last_heartbeat", "updated_at"}
	if s.CursorPosition != nil {
		cols = append(cols, "cursor_position")
	}
	if s.SelectionStart != nil {
		cols = append(cols, "selection_start")
	}
	if s.SelectionEnd != nil {
		cols = append(cols, "selection_end")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(s).Error
}

func (r *gormSessionRepo) ListSince(ctx context.Context, docID string, since time.Time) ([]entity.CollaborationSession, error) {
	var out []entity.CollaborationSession
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND last_heartbeat >= ?", docID, since).
		Order("last_heartbeat DESC").
		Find(&out).Error
	return out, err
}
