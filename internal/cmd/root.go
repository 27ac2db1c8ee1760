package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hashitfit/coach/internal/otel"
)

// Build metadata, set with -ldflags "-X github.com/hashitfit/coach/internal/cmd.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var tracer = otel.Tracer("github.com/hashitfit/coach/internal/cmd")

// rootFlags are the persistent flags shared by every subcommand.
var rootFlags struct {
	configPath string
	verbose    bool
	level      string
	format     string
	telemetry  bool
}

// flushTelemetry is set once the otel providers are running.
var flushTelemetry func(context.Context) error

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Assistant orchestration runtime for the fitness tracker",
	Long: `coach sits between the fitness tracker and its remote AI assistants.

Each user gets one assistant thread per workflow. coach posts the request,
answers the assistant's tool calls from the user's own logs, memories and
coaching notes, then validates and stores what comes back: workout plans,
nutrition plans, recommendations, onboarding bundles and chat replies.

Run "coach serve" for the HTTP API or "coach generate" for one-off runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configureLogger(os.Stderr)
		return startTelemetry()
	},
}

func init() {
	cobra.OnInitialize(readConfigFile)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "path to coach.config.yaml (searched in . and ~/.coach when unset)")
	pf.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "debug logging plus stdout traces")
	pf.StringVar(&rootFlags.level, "log-level", "info", "minimum log level: debug, info, warn or error")
	pf.StringVar(&rootFlags.format, "log-format", "console", "console or json")
	pf.BoolVar(&rootFlags.telemetry, "otel", false, "export traces and metrics to stdout")

	for key, flag := range map[string]string{
		"verbose":    "verbose",
		"otel":       "otel",
		"log_level":  "log-level",
		"log_format": "log-format",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}
}

// readConfigFile points viper at the config file and the COACH_ environment.
// A missing file is fine.
func readConfigFile() {
	viper.SetEnvPrefix("COACH")
	viper.AutomaticEnv()

	if rootFlags.configPath != "" {
		viper.SetConfigFile(rootFlags.configPath)
	} else {
		viper.SetConfigName("coach.config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".coach"))
		}
	}
	_ = viper.ReadInConfig()
}

// configureLogger installs the global zerolog logger on w. Logs never go to
// stdout, which carries command output such as `coach generate ... | jq`.
func configureLogger(w io.Writer) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(rootFlags.level); err == nil {
		level = parsed
	}
	if rootFlags.verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if rootFlags.format != "json" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func startTelemetry() error {
	enabled := rootFlags.telemetry || rootFlags.verbose || os.Getenv("COACH_OTEL_ENABLED") == "true"
	shutdown, err := otel.Setup("hashitfit-coach", resolvedVersion(), enabled)
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	flushTelemetry = shutdown
	return nil
}

// resolvedVersion prefers the module version recorded by `go install` over
// the "dev" placeholder.
func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return Version
	}
	return info.Main.Version
}

// Execute runs the command tree, then flushes telemetry.
func Execute() error {
	err := rootCmd.Execute()
	if flushTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = flushTelemetry(ctx)
	}
	return err
}
