package store

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

const mysqlDuplicateEntry = 1062

type SnapshotStore struct{ db *gorm.DB }

var _ repo.SnapshotRepo = (*SnapshotStore)(nil)

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveDocumentSnapshot is idempotent per (document, revision).
func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docID string, rev int, content string) error {
	err := s.db.WithContext(ctx).Create(&entity.DocumentSnapshot{
		DocumentID: docID,
		Revision:   rev,
		Content:    content,
	}).Error
	if isDuplicate(err) {
		return nil
	}
	return err
}

func (s *SnapshotStore) LatestSnapshot(ctx context.Context, docID string) (*entity.DocumentSnapshot, error) {
	var snap entity.DocumentSnapshot
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("revision DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
