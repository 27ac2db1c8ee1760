// Package doctor provides preflight checks for a coach deployment.
// Used by `coach doctor` before serving traffic.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/hashitfit/coach/internal/config"
	"github.com/hashitfit/coach/internal/datasource"
	"github.com/hashitfit/coach/internal/store"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories to run.
type Options struct {
	SkipRemote bool // skip assistant service and Redis connectivity (CI/offline)
	HTTPClient *http.Client
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.add(CheckResult{
			Name: "config_load", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("cannot load config: %v", err),
			Fix:     "Check COACH_* env vars and coach.config.yaml",
		})
		report.finish()
		return report
	}

	report.add(checkDataDir(cfg))
	report.add(checkAssistants(cfg)...)
	report.add(checkAPIKeys(cfg))
	report.add(checkSchedule(cfg))
	report.add(checkStore(ctx, cfg)...)
	if !opts.SkipRemote {
		report.add(checkRemote(ctx, cfg, opts.HTTPClient))
		if cfg.RedisAddr != "" {
			report.add(checkRedis(ctx, cfg))
		}
	}
	report.finish()
	return report
}

func (r *Report) add(results ...CheckResult) {
	r.Checks = append(r.Checks, results...)
}

func (r *Report) finish() {
	r.Summary = Summary{}
	for _, c := range r.Checks {
		switch c.Status {
		case StatusPass:
			r.Summary.Pass++
		case StatusWarn:
			r.Summary.Warn++
		case StatusFail:
			r.Summary.Fail++
		}
	}
	r.Status = StatusPass
	if r.Summary.Warn > 0 {
		r.Status = StatusWarn
	}
	if r.Summary.Fail > 0 {
		r.Status = StatusFail
	}
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.DataDir, err),
			Fix:     "Ensure the directory exists and is writable, or set COACH_DATA_DIR",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%s not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: StatusPass,
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

// checkAssistants warns per unconfigured workflow; that workflow answers 503.
func checkAssistants(cfg *config.Config) []CheckResult {
	var results []CheckResult
	for _, wf := range []string{config.WorkflowWorkout, config.WorkflowNutrition, config.WorkflowRecommendations, config.WorkflowChat} {
		id := cfg.Assistants[wf]
		if id == "" {
			results = append(results, CheckResult{
				Name: "assistant_" + wf, Category: "config", Status: StatusWarn,
				Message: "not configured; the workflow is disabled",
				Fix:     "Set COACH_ASSISTANT_" + strings.ToUpper(wf),
			})
			continue
		}
		results = append(results, CheckResult{
			Name: "assistant_" + wf, Category: "config", Status: StatusPass, Message: id,
		})
	}
	return results
}

func checkAPIKeys(cfg *config.Config) CheckResult {
	if len(cfg.APIKeys) == 0 {
		return CheckResult{
			Name: "api_keys", Category: "config", Status: StatusWarn,
			Message: "no API clients configured; authenticated endpoints return 401",
			Fix:     "Set COACH_API_KEYS to key:label pairs",
		}
	}
	return CheckResult{
		Name: "api_keys", Category: "config", Status: StatusPass,
		Message: fmt.Sprintf("%d client(s)", len(cfg.APIKeys)),
	}
}

func checkSchedule(cfg *config.Config) CheckResult {
	if cfg.RecommendationsCron == "" {
		return CheckResult{
			Name: "refresh_schedule", Category: "config", Status: StatusPass,
			Message: "disabled",
		}
	}
	if _, err := cron.ParseStandard(cfg.RecommendationsCron); err != nil {
		return CheckResult{
			Name: "refresh_schedule", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%q: %v", cfg.RecommendationsCron, err),
			Fix:     "Use a 5-field cron expression, e.g. \"0 6 * * 1\"",
		}
	}
	return CheckResult{
		Name: "refresh_schedule", Category: "config", Status: StatusPass,
		Message: cfg.RecommendationsCron,
	}
}

// checkStore opens and migrates the store, then validates the catalog the
// runtime would load from it.
func checkStore(ctx context.Context, cfg *config.Config) []CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return []CheckResult{{
			Name: "store", Category: "store", Status: StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.DBDriver, err),
			Fix:     "Check COACH_DB_DRIVER and COACH_DB_DSN",
		}}
	}
	defer db.Close()

	results := []CheckResult{{
		Name: "store", Category: "store", Status: StatusPass,
		Message: fmt.Sprintf("%s (schema applied)", cfg.DBDriver),
	}}
	return append(results, checkCatalog(ctx, cfg, db))
}

func checkCatalog(ctx context.Context, cfg *config.Config, db *store.DB) CheckResult {
	var (
		descs  []datasource.Descriptor
		origin string
		err    error
	)
	if cfg.CatalogPath != "" {
		origin = cfg.CatalogPath
		descs, err = datasource.LoadYAML(cfg.CatalogPath)
	} else {
		origin = "data_sources table"
		descs, err = datasource.LoadFromDB(ctx, db)
		if err == nil && len(descs) == 0 {
			origin, descs = "built-in", datasource.DefaultCatalog()
		}
	}
	if err == nil {
		var reg *datasource.Registry
		if reg, err = datasource.NewRegistry(descs); err == nil {
			return CheckResult{
				Name: "catalog", Category: "store", Status: StatusPass,
				Message: fmt.Sprintf("%s: %d active source(s)", origin, len(reg.Active())),
			}
		}
	}
	return CheckResult{
		Name: "catalog", Category: "store", Status: StatusFail,
		Message: fmt.Sprintf("%s: %v", origin, err),
		Fix:     "Run 'coach catalog validate <file>' and fix the reported entry",
	}
}

// checkRemote calls GET {base}/models with the configured key. Any answer
// below 500 other than 401 proves reachability.
func checkRemote(ctx context.Context, cfg *config.Config, client *http.Client) CheckResult {
	if err := cfg.RequireRemote(); err != nil {
		return CheckResult{
			Name: "assistant_service", Category: "remote", Status: StatusFail,
			Message: err.Error(),
			Fix:     "Set COACH_OPENAI_API_KEY",
		}
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := strings.TrimRight(cfg.OpenAIBaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{
			Name: "assistant_service", Category: "remote", Status: StatusFail,
			Message: fmt.Sprintf("invalid base URL: %v", err),
			Fix:     "Check COACH_OPENAI_BASE_URL",
		}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.OpenAIAPIKey)

	start := time.Now()
	resp, err := client.Do(req) //nolint:gosec // URL comes from operator config
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name: "assistant_service", Category: "remote", Status: StatusFail,
			Message: fmt.Sprintf("connection failed: %v", err),
			Fix:     "Check network connectivity and COACH_OPENAI_BASE_URL",
		}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return CheckResult{
			Name: "assistant_service", Category: "remote", Status: StatusFail,
			Message: "API key rejected (401)",
			Fix:     "Check COACH_OPENAI_API_KEY",
		}
	case resp.StatusCode >= 500:
		return CheckResult{
			Name: "assistant_service", Category: "remote", Status: StatusWarn,
			Message: fmt.Sprintf("GET %s answered %d", url, resp.StatusCode),
		}
	case latency > 2*time.Second:
		return CheckResult{
			Name: "assistant_service", Category: "remote", Status: StatusWarn,
			Message: fmt.Sprintf("%.1fs (> 2s threshold)", latency.Seconds()),
			Fix:     "Polling budgets assume a responsive service; consider raising COACH_POLL_INTERVAL",
		}
	}
	return CheckResult{
		Name: "assistant_service", Category: "remote", Status: StatusPass,
		Message: fmt.Sprintf("%s (%dms)", cfg.OpenAIBaseURL, latency.Milliseconds()),
	}
}

func checkRedis(ctx context.Context, cfg *config.Config) CheckResult {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Name: "redis", Category: "remote", Status: StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.RedisAddr, err),
			Fix:     "Start Redis or unset COACH_REDIS_ADDR to keep bindings in the store",
		}
	}
	return CheckResult{
		Name: "redis", Category: "remote", Status: StatusPass, Message: cfg.RedisAddr,
	}
}
