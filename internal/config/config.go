// Package config holds the operator-level configuration of a coach process.
//
// Everything the orchestration runtime needs (assistant identifiers, remote
// credentials, polling bounds, store location) is resolved once at start-up
// into a single Config that is passed by reference to the session manager,
// run driver and fan-out coordinator. Nothing below the cmd layer reads the
// environment directly.
//
// Values come from env vars with the COACH_ prefix (e.g. "max_attempts" →
// COACH_MAX_ATTEMPTS), from coach.config.yaml, or from the defaults set in init.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyDataDir                  = "data_dir"
	KeyDBDriver                 = "db_driver"
	KeyDBDSN                    = "db_dsn"
	KeyOpenAIAPIKey             = "openai_api_key"
	KeyOpenAIBaseURL            = "openai_base_url"
	KeyAssistantWorkout         = "assistant_workout"
	KeyAssistantNutrition       = "assistant_nutrition"
	KeyAssistantRecommendations = "assistant_recommendations"
	KeyAssistantChat            = "assistant_chat"
	KeyPollInterval             = "poll_interval"
	KeyMaxAttempts              = "max_attempts"
	KeyMaxAttemptsChat          = "max_attempts_chat"
	KeyCatalogPath              = "catalog_path"
	KeyRedisAddr                = "redis_addr"
	KeyAPIKeys                  = "api_keys"
	KeyRateLimitRPS             = "rate_limit_rps"
	KeyRemoteRPS                = "remote_rps"
	KeyRecommendationsCron      = "recommendations_cron"
)

// Workflow keys. They double as fan-out branch keys and thread binding scopes.
const (
	WorkflowWorkout         = "workout"
	WorkflowNutrition       = "nutrition"
	WorkflowRecommendations = "recommendations"
	WorkflowChat            = "chat"
)

// Defaults.
const (
	DefaultDBDriver        = "sqlite3"
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultMaxAttempts     = 120
	DefaultMaxAttemptsChat = 45
	DefaultRateLimitRPS    = 2.0
	DefaultRemoteRPS       = 10.0
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"

	maxAttemptsCeiling = 600
)

// Config is the resolved configuration for one coach process.
type Config struct {
	DataDir       string
	DBDriver      string // "sqlite3" or "pgx"
	DBDSN         string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Assistants maps workflow key → remote assistant id.
	Assistants map[string]string

	PollInterval    time.Duration
	MaxAttempts     int // generation workflows
	MaxAttemptsChat int

	CatalogPath         string // optional YAML data source catalog
	RedisAddr           string // optional; enables the Redis thread binding store
	APIKeys             map[string]string
	RateLimitRPS        float64 // per user, inbound HTTP
	RemoteRPS           float64 // outbound calls to the assistant service; 0 disables
	RecommendationsCron string  // empty disables the refresh scheduler
}

func init() {
	viper.SetEnvPrefix("COACH")
	viper.AutomaticEnv()
	setDefaults()
}

func setDefaults() {
	viper.SetDefault(KeyDBDriver, DefaultDBDriver)
	viper.SetDefault(KeyOpenAIBaseURL, DefaultOpenAIBaseURL)
	viper.SetDefault(KeyPollInterval, DefaultPollInterval)
	viper.SetDefault(KeyMaxAttempts, DefaultMaxAttempts)
	viper.SetDefault(KeyMaxAttemptsChat, DefaultMaxAttemptsChat)
	viper.SetDefault(KeyRateLimitRPS, DefaultRateLimitRPS)
	viper.SetDefault(KeyRemoteRPS, DefaultRemoteRPS)
}

// ResetForTest restores the package's viper defaults after a test called viper.Reset.
func ResetForTest() {
	viper.Reset()
	viper.SetEnvPrefix("COACH")
	viper.AutomaticEnv()
	setDefaults()
}

// Load reads configuration from viper (env, config file, defaults) and
// returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		DBDriver:      viper.GetString(KeyDBDriver),
		DBDSN:         viper.GetString(KeyDBDSN),
		OpenAIAPIKey:  viper.GetString(KeyOpenAIAPIKey),
		OpenAIBaseURL: viper.GetString(KeyOpenAIBaseURL),
		Assistants: map[string]string{
			WorkflowWorkout:         viper.GetString(KeyAssistantWorkout),
			WorkflowNutrition:       viper.GetString(KeyAssistantNutrition),
			WorkflowRecommendations: viper.GetString(KeyAssistantRecommendations),
			WorkflowChat:            viper.GetString(KeyAssistantChat),
		},
		PollInterval:        viper.GetDuration(KeyPollInterval),
		MaxAttempts:         viper.GetInt(KeyMaxAttempts),
		MaxAttemptsChat:     viper.GetInt(KeyMaxAttemptsChat),
		CatalogPath:         viper.GetString(KeyCatalogPath),
		RedisAddr:           viper.GetString(KeyRedisAddr),
		APIKeys:             ParseAPIKeys(viper.GetString(KeyAPIKeys)),
		RateLimitRPS:        viper.GetFloat64(KeyRateLimitRPS),
		RemoteRPS:           viper.GetFloat64(KeyRemoteRPS),
		RecommendationsCron: viper.GetString(KeyRecommendationsCron),
	}
	if cfg.DBDriver == DefaultDBDriver && cfg.DBDSN == "" {
		cfg.DBDSN = filepath.Join(cfg.DataDir, "coach.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coach"
	}
	return filepath.Join(home, ".coach")
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite3":
	case "pgx":
		if c.DBDSN == "" {
			return fmt.Errorf("db_dsn is required when db_driver is pgx; set COACH_DB_DSN")
		}
	default:
		return fmt.Errorf("db_driver must be sqlite3 or pgx (got %q)", c.DBDriver)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxAttempts <= 0 || c.MaxAttempts > maxAttemptsCeiling {
		return fmt.Errorf("max_attempts must be between 1 and %d (got %d)", maxAttemptsCeiling, c.MaxAttempts)
	}
	if c.MaxAttemptsChat <= 0 || c.MaxAttemptsChat > maxAttemptsCeiling {
		return fmt.Errorf("max_attempts_chat must be between 1 and %d (got %d)", maxAttemptsCeiling, c.MaxAttemptsChat)
	}
	if c.RateLimitRPS < 0 || c.RemoteRPS < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// AssistantFor returns the assistant id configured for a workflow.
func (c *Config) AssistantFor(workflow string) (string, error) {
	id := c.Assistants[workflow]
	if id == "" {
		return "", fmt.Errorf("no assistant configured for workflow %q; set COACH_ASSISTANT_%s", workflow, strings.ToUpper(workflow))
	}
	return id, nil
}

// MaxAttemptsFor returns the poll attempt bound for a workflow.
func (c *Config) MaxAttemptsFor(workflow string) int {
	if workflow == WorkflowChat {
		return c.MaxAttemptsChat
	}
	return c.MaxAttempts
}

// RequireRemote reports an error when the assistant service cannot be reached
// with the current configuration. Commands that only touch the local store
// don't call it.
func (c *Config) RequireRemote() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("openai_api_key is not set; set COACH_OPENAI_API_KEY")
	}
	return nil
}

// WarnIfIncomplete logs which workflows will be unavailable.
func (c *Config) WarnIfIncomplete() {
	for _, wf := range []string{WorkflowWorkout, WorkflowNutrition, WorkflowRecommendations, WorkflowChat} {
		if c.Assistants[wf] == "" {
			log.Warn().Str("workflow", wf).Msg("assistant id not configured; workflow disabled")
		}
	}
	if len(c.APIKeys) == 0 {
		log.Warn().Msg("COACH_API_KEYS not set; all authenticated endpoints will return 401")
	}
}

// ParseAPIKeys parses a comma-separated list of "key" or "key:label" entries.
// Entries without a label map to "default".
func ParseAPIKeys(raw string) map[string]string {
	m := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			if l := strings.TrimSpace(part[idx+1:]); l != "" {
				label = l
			}
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = label
	}
	return m
}
