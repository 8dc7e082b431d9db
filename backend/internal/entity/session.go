package entity

import "time"

// CollaborationSession is the durable presence row, one per (document, user).
type CollaborationSession struct {
	ID             uint   `gorm:"primaryKey"`
	DocumentID     string `gorm:"type:varchar(64);uniqueIndex:uk_session_doc_user"`
	UserID         string `gorm:"type:varchar(64);uniqueIndex:uk_session_doc_user"`
	UserName       string `gorm:"type:varchar(128)"`
	CursorPosition *int
	SelectionStart *int
	SelectionEnd   *int
	LastHeartbeat  time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
