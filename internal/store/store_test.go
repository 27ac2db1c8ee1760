package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = '?' AND d > ?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = '?' AND d > $2`, Postgres.Rebind(q))
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "?", SQLite.Placeholder(3))
	assert.Equal(t, "$3", Postgres.Placeholder(3))
}

func TestOpen_SQLiteAppliesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"thread_bindings", "memory_records", "chat_messages", "workout_plans"} {
		var n int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
		require.NoError(t, err, table)
		assert.Zero(t, n)
	}

	// idempotent
	require.NoError(t, db.Migrate(ctx))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	require.Error(t, err)
}

func TestScanTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, ok := ScanTime(now)
	require.True(t, ok)
	assert.Equal(t, now, got)

	got, ok = ScanTime("2026-03-01 10:00:00")
	require.True(t, ok)
	assert.Equal(t, now, got)

	_, ok = ScanTime(nil)
	assert.False(t, ok)
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(errors.New("no such table: x")))
	assert.True(t, IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
}

func TestOpen_PostgresIntegration(t *testing.T) {
	dsn := os.Getenv("COACH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set COACH_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	db, err := Open(context.Background(), "pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, Postgres, db.Dialect)
}
