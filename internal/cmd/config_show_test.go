package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShowCmd_MasksSecrets(t *testing.T) {
	setupCLI(t)
	t.Setenv("COACH_OPENAI_API_KEY", "sk-test-1234567890")
	t.Setenv("COACH_API_KEYS", "secretclientkey:web")

	out, err := run(t, "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, "Data directory:")
	assert.Contains(t, out, "(exists)")
	assert.Contains(t, out, "sk-t********")
	assert.NotContains(t, out, "sk-test-1234567890")
	assert.Contains(t, out, "API clients:       web")
	assert.NotContains(t, out, "secretclientkey")
	assert.Contains(t, out, "asst_workout")
	assert.Contains(t, out, "Thread bindings:   sql")
}

func TestConfigShowCmd_MissingCatalogFlagged(t *testing.T) {
	setupCLI(t)
	t.Setenv("COACH_CATALOG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "nope.yaml (missing)")
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "/data/coach.db", redactDSN("sqlite3", "/data/coach.db"))
	assert.Equal(t, "postgres://****@db:5432/coach", redactDSN("pgx", "postgres://coach:hunter2@db:5432/coach"))
	assert.Equal(t, "(dsn set)", redactDSN("pgx", "host=db password=hunter2"))
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, dirExists(dir))
	assert.False(t, dirExists(filepath.Join(dir, "nonexistent")))
	f := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
	assert.False(t, dirExists(f))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
	assert.True(t, fileExists(f))
	assert.False(t, fileExists(filepath.Join(dir, "nonexistent")))
	assert.False(t, fileExists(dir))
}
