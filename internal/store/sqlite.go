package store

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and migrates the document
// schema plus any additional models the caller supplies.
func OpenSQLite(path string, logger *zap.Logger, extraModels ...interface{}) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	models := append([]interface{}{&Document{}}, extraModels...)
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
