// Package dbtest provides throwaway databases for package tests.
package dbtest

import (
	"io"
	"testing"

	"github.com/pulserank/apicache/internal/database"
	"github.com/pulserank/apicache/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// New returns a migrated in-memory SQLite database, including the user tables
// normally owned by the surrounding application.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.NewSQLiteDB(Logger(), ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.UserOrder{}); err != nil {
		t.Fatalf("migrate user tables: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Logger returns a logger that discards output.
func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
