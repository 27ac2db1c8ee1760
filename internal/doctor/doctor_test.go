package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COACH_DATA_DIR", dir)
	t.Setenv("COACH_DB_DRIVER", "sqlite3")
	t.Setenv("COACH_DB_DSN", "")
	t.Setenv("COACH_CATALOG_PATH", "")
	t.Setenv("COACH_REDIS_ADDR", "")
	t.Setenv("COACH_RECOMMENDATIONS_CRON", "")
	t.Setenv("COACH_API_KEYS", "k1:web")
	t.Setenv("COACH_OPENAI_API_KEY", "sk-test")
	t.Setenv("COACH_ASSISTANT_WORKOUT", "asst_workout")
	t.Setenv("COACH_ASSISTANT_NUTRITION", "asst_nutrition")
	t.Setenv("COACH_ASSISTANT_RECOMMENDATIONS", "asst_recs")
	t.Setenv("COACH_ASSISTANT_CHAT", "asst_chat")
	return dir
}

func find(t *testing.T, r *Report, name string) CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

func TestRun_AllPassOffline(t *testing.T) {
	setEnv(t)

	report := Run(context.Background(), Options{SkipRemote: true})
	assert.Equal(t, StatusPass, report.Status, "%+v", report.Checks)
	assert.Zero(t, report.Summary.Fail)
	assert.Contains(t, find(t, report, "catalog").Message, "built-in")
	assert.Equal(t, StatusPass, find(t, report, "store").Status)
	for _, c := range report.Checks {
		assert.NotEqual(t, "remote", c.Category, "remote checks must be skipped")
	}
}

func TestRun_MissingAssistantWarns(t *testing.T) {
	setEnv(t)
	t.Setenv("COACH_ASSISTANT_CHAT", "")

	report := Run(context.Background(), Options{SkipRemote: true})
	c := find(t, report, "assistant_chat")
	assert.Equal(t, StatusWarn, c.Status)
	assert.Equal(t, "Set COACH_ASSISTANT_CHAT", c.Fix)
	assert.Equal(t, StatusWarn, report.Status)
}

func TestRun_BadCronFails(t *testing.T) {
	setEnv(t)
	t.Setenv("COACH_RECOMMENDATIONS_CRON", "every monday")

	report := Run(context.Background(), Options{SkipRemote: true})
	assert.Equal(t, StatusFail, find(t, report, "refresh_schedule").Status)
	assert.Equal(t, StatusFail, report.Status)
}

func TestRun_InvalidCatalogFails(t *testing.T) {
	dir := setEnv(t)
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - key: bad
    config:
      table: "x; DROP TABLE users"
      columns: [id]
`), 0o600))
	t.Setenv("COACH_CATALOG_PATH", path)

	report := Run(context.Background(), Options{SkipRemote: true})
	c := find(t, report, "catalog")
	assert.Equal(t, StatusFail, c.Status)
	assert.Contains(t, c.Message, path)
}

func TestRun_InvalidConfigStopsEarly(t *testing.T) {
	setEnv(t)
	t.Setenv("COACH_DB_DRIVER", "oracle")

	report := Run(context.Background(), Options{SkipRemote: true})
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "config_load", report.Checks[0].Name)
	assert.Equal(t, StatusFail, report.Status)
}

func TestRun_RemoteReachable(t *testing.T) {
	setEnv(t)
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("COACH_OPENAI_BASE_URL", srv.URL+"/v1")

	report := Run(context.Background(), Options{HTTPClient: srv.Client()})
	assert.Equal(t, StatusPass, find(t, report, "assistant_service").Status)
	assert.Equal(t, "Bearer sk-test", auth)
}

func TestRun_RemoteRejectsKey(t *testing.T) {
	setEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	t.Setenv("COACH_OPENAI_BASE_URL", srv.URL+"/v1")

	report := Run(context.Background(), Options{HTTPClient: srv.Client()})
	c := find(t, report, "assistant_service")
	assert.Equal(t, StatusFail, c.Status)
	assert.Contains(t, c.Message, "401")
}

func TestRun_RemoteWithoutKeyFails(t *testing.T) {
	setEnv(t)
	t.Setenv("COACH_OPENAI_API_KEY", "")

	report := Run(context.Background(), Options{})
	assert.Equal(t, StatusFail, find(t, report, "assistant_service").Status)
}

func TestReport_Finish(t *testing.T) {
	report := &Report{}
	report.add(
		CheckResult{Status: StatusPass, Name: "a"},
		CheckResult{Status: StatusPass, Name: "b"},
		CheckResult{Status: StatusWarn, Name: "c"},
	)
	report.finish()
	assert.Equal(t, Summary{Pass: 2, Warn: 1}, report.Summary)
	assert.Equal(t, StatusWarn, report.Status)

	report.add(CheckResult{Status: StatusFail, Name: "d"})
	report.finish()
	assert.Equal(t, Summary{Pass: 2, Warn: 1, Fail: 1}, report.Summary)
	assert.Equal(t, StatusFail, report.Status)
}
