package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hashitfit/coach/internal/store"
)

// NewTestDB opens a migrated SQLite store in a temp dir and registers
// t.Cleanup to close it.
func NewTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "coach.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
