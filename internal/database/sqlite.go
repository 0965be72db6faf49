package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewSQLiteDB opens a file (or ":memory:") SQLite database. It suits single
// node deployments and tests.
func NewSQLiteDB(logger *logrus.Logger, path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"driver":    "sqlite",
		"path":      path,
	})

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		log.WithError(err).Error("Failed to open database")
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	// SQLite serialises writers; one connection avoids "database is locked"
	// under concurrent upserts and keeps :memory: databases shared.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		log.WithError(err).Error("Database migration failed")
		return nil, err
	}

	log.Info("Database opened")
	return db, nil
}
