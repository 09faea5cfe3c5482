package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskmanager/internal/logger"
	"taskmanager/internal/model"
)

// Migrate creates or updates the schema. When reset is set existing tables are dropped first.
func Migrate(db *gorm.DB, reset bool) error {
	if reset {
		logger.Warn("RESET_DB set, dropping all tables")
		// Tasks reference users, drop them first.
		for _, table := range []any{&model.Task{}, &model.User{}} {
			if err := db.Migrator().DropTable(table); err != nil {
				logger.Warn("drop table failed (may not exist)", zap.Error(err))
			}
		}
	}

	if err := db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
