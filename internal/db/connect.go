package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN builds a DSN for a named, shared-cache in-memory SQLite
// database. Every connection opened with the same name sees the same data
// until the last one closes. Characters with meaning in a URI are
// replaced so test names can be used directly.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnNameReplacer.Replace(name))
}

var dsnNameReplacer = strings.NewReplacer("/", "_", "?", "_", "#", "_", "&", "_")

// Connect opens a GORM connection to the session store.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: dsn is required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", dsn, err)
	}
	// SQLite allows one writer; a single connection also keeps an
	// unnamed :memory: database alive for the life of the pool.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Open connects and migrates in one step.
func Open(dsn string) (*gorm.DB, error) {
	db, err := Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
