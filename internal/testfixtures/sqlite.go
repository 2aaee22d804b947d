package testfixtures

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mawared-attendance-backend/internal/db"
	"mawared-attendance-backend/internal/store"
)

// NewSQLiteDB opens a migrated SQLite database in a temporary file. The
// connection is closed when the test finishes.
func NewSQLiteDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + filepath.Join(tb.TempDir(), "mawared.db")
	gormDB, err := db.Open(dsn, logger.Silent)
	if err != nil {
		tb.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		tb.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gormDB); err != nil {
		tb.Fatalf("failed to migrate sqlite: %v", err)
	}
	return gormDB
}

// NewStore returns a gorm store over a fresh SQLite database.
func NewStore(tb testing.TB) store.Store {
	tb.Helper()
	return store.NewGormStore(NewSQLiteDB(tb), store.DefaultNoticeRetentionDays)
}
