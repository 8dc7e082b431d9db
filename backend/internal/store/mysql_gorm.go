package store

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collabdoc/backend/internal/entity"
)

// InitMySQL opens the pool and migrates the collaboration tables.
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&entity.Document{},
		&entity.DocumentCollaborator{},
		&entity.DocumentEditHistory{},
		&entity.CollaborationSession{},
		&entity.DocumentSnapshot{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
