// Package testing provides testing utilities and helpers for the coinfolio project.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/coinfolio/internal/database"
)

// NewTestDB creates a temporary file-backed SQLite database with the named
// schema applied ("ledger" or "cache"). Unknown names get an empty database.
// The database and its file are removed when the test ends.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	// A file per test keeps tests isolated even with a pooled connection
	tmpFile, err := os.CreateTemp(t.TempDir(), fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	switch name {
	case "ledger":
		profile = database.ProfileLedger
	case "cache":
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})
	return db
}
