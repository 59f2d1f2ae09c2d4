package testutil

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/jbweber/homelab/perch/internal/migrations"
	_ "modernc.org/sqlite"
)

// NewTestDSN generates a DSN for an in-memory SQLite database for testing
// purposes. Foreign keys are enabled on the DSN so every pooled connection
// enforces them.
func NewTestDSN(testName string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", testName)
}

// SetupTestDB creates a migrated in-memory test database. The connection is
// closed automatically when the test finishes.
func SetupTestDB(t *testing.T, testName string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", NewTestDSN(testName))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	if err := migrator.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
