// Package dbtest opens migrated in-memory sqlite databases for package tests.
package dbtest

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"paycheck/internal/platform/database"
)

func New(t testing.TB) *database.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	// A second connection would see a different :memory: database.
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(sqlDB, database.DriverSQLite)
	if err := database.Migrate(db); err != nil {
		sqlDB.Close()
		t.Fatalf("Failed to migrate db: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}
