// Package storagetest opens migrated databases for tests.
package storagetest

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

// MigrationsDir returns the migrations directory of a dialect relative to this file.
func MigrationsDir(dialect string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations", dialect)
}

// NewSQLite returns a migrated sqlite database in a temporary directory.
func NewSQLite(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(&storage.Credentials{
		Dialect:    storage.DialectSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.RunMigrations(MigrationsDir(storage.DialectSQLite)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}
