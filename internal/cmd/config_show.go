package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hashitfit/coach/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage coach configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		out := cmd.OutOrStdout()

		source := "(none, env and defaults only)"
		if f := viper.ConfigFileUsed(); f != "" {
			source = f
		}
		fmt.Fprintf(out, "Config file:       %s\n", source)

		dataDir := cfg.DataDir
		if dirExists(dataDir) {
			dataDir += " (exists)"
		}
		fmt.Fprintf(out, "Data directory:    %s\n", dataDir)
		fmt.Fprintf(out, "Store:             %s %s\n", cfg.DBDriver, redactDSN(cfg.DBDriver, cfg.DBDSN))
		fmt.Fprintf(out, "OpenAI API key:    %s\n", maskSecret(cfg.OpenAIAPIKey))
		fmt.Fprintf(out, "OpenAI base URL:   %s\n", cfg.OpenAIBaseURL)
		fmt.Fprintln(out, "Assistants:")
		for _, wf := range []string{config.WorkflowWorkout, config.WorkflowNutrition, config.WorkflowRecommendations, config.WorkflowChat} {
			fmt.Fprintf(out, "  %-16s %s\n", wf, orDash(cfg.Assistants[wf]))
		}
		fmt.Fprintf(out, "Polling:           every %s, %d attempts (chat %d)\n", cfg.PollInterval, cfg.MaxAttempts, cfg.MaxAttemptsChat)

		catalog := "built-in or data_sources table"
		if cfg.CatalogPath != "" {
			catalog = cfg.CatalogPath
			if !fileExists(catalog) {
				catalog += " (missing)"
			}
		}
		fmt.Fprintf(out, "Catalog:           %s\n", catalog)
		fmt.Fprintf(out, "Thread bindings:   %s\n", bindingBackend(cfg.RedisAddr))
		fmt.Fprintf(out, "API clients:       %s\n", apiClients(cfg.APIKeys))
		fmt.Fprintf(out, "Rate limits:       %.1f req/s per user, %.1f req/s remote\n", cfg.RateLimitRPS, cfg.RemoteRPS)
		fmt.Fprintf(out, "Refresh schedule:  %s\n", orDash(cfg.RecommendationsCron))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func bindingBackend(redisAddr string) string {
	if redisAddr == "" {
		return "sql"
	}
	return "redis " + redisAddr
}

// apiClients lists client labels, never the keys.
func apiClients(keys map[string]string) string {
	if len(keys) == 0 {
		return "(none, authenticated endpoints return 401)"
	}
	labels := make([]string, 0, len(keys))
	for _, l := range keys {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return strings.Join(labels, ", ")
}

// redactDSN hides Postgres credentials; SQLite DSNs are file paths.
func redactDSN(driver, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return "(dsn set)"
	}
	return dsn[:scheme+3] + "****" + dsn[at:]
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
