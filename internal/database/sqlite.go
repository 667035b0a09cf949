package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/docstore"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Separate processes (serve and the admin commands) share one database file.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// DataSourceName appends the connection pragmas to a SQLite path.
func DataSourceName(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqlitePragmas
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(DataSourceName(path)), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates the document, cache and migration tables and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&docstore.Document{}, &cache.Entry{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
