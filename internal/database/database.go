package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase connects to postgres when databaseURL is set, otherwise to a
// sqlite file under root, and applies all migrations.
func NewDatabase(databaseURL, root string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if databaseURL == "" || strings.HasPrefix(databaseURL, "sqlite://") {
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			path = filepath.Join(root, "db", "automl.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
		slog.Info("using sqlite database", "path", path)
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating database schema: %w", err)
	}

	return db, nil
}
