package entity

import "time"

type Document struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)"`
	Title        string     `gorm:"type:varchar(255)"`
	OwnerID      string     `gorm:"type:varchar(64);index"`
	OwnerName    string     `gorm:"type:varchar(128)"`
	Content      string     `gorm:"type:longtext"`
	Version      int        `gorm:"default:1"`
	IsLocked     bool       `gorm:"default:false;index"`
	LockedBy     *string    `gorm:"type:varchar(64)"`
	LockedAt     *time.Time `gorm:"index"`
	LastEditedBy *string    `gorm:"type:varchar(64)"`
	LastEditedAt *time.Time
	EditCount    int `gorm:"default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Document) TableName() string { return "collaboration_documents" }

const (
	RoleEditor = "editor"
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

type DocumentCollaborator struct {
	ID         uint   `gorm:"primaryKey"`
	DocumentID string `gorm:"type:varchar(64);uniqueIndex:uk_doc_user"`
	UserID     string `gorm:"type:varchar(64);uniqueIndex:uk_doc_user"`
	Role       string `gorm:"type:varchar(16)"`
	CreatedAt  time.Time
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionEdit   = "edit"
	ActionLock   = "lock"
	ActionUnlock = "unlock"
)

type DocumentEditHistory struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	DocumentID string `gorm:"type:varchar(64);index"`
	UserID     string `gorm:"type:varchar(64)"`
	UserName   string `gorm:"type:varchar(128)"`
	Action     string `gorm:"type:varchar(16)"`
	Summary    string `gorm:"type:varchar(255)"`
	Version    int
	CreatedAt  time.Time `gorm:"index"`
}

type DocumentSnapshot struct {
	ID         uint   `gorm:"primaryKey"`
	DocumentID string `gorm:"type:varchar(64);uniqueIndex:uk_doc_rev"`
	Revision   int    `gorm:"uniqueIndex:uk_doc_rev"`
	Content    string `gorm:"type:longtext"`
	CreatedAt  time.Time
}
