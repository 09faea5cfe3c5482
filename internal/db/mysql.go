package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"taskmanager/internal/config"
	"taskmanager/internal/logger"
)

// NewMySQL returns a connected GORM DB instance.
func NewMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return db, nil
}

// Open connects to the database selected by cfg.DBDriver.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	default:
		return NewMySQL(cfg.MySQLDSN)
	}
}

// gormConfig enables driver error translation so unique violations surface as gorm.ErrDuplicatedKey.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         queryLogger(),
	}
}

// queryLogger sends slow queries and query errors through the process zap logger.
// Lookups that find nothing are expected and not logged.
func queryLogger() gormlogger.Interface {
	// NewStdLogAt only fails for levels zap does not know.
	writer, _ := zap.NewStdLogAt(logger.Logger.Named("gorm"), zapcore.WarnLevel)
	return gormlogger.New(writer, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
