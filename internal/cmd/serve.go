package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hashitfit/coach/internal/server"
	"github.com/hashitfit/coach/internal/trigger"
)

var (
	servePort        int
	serveCORSOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the recommendations refresh schedule",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", []string{"*"}, "allowed CORS origins")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.WarnIfIncomplete()

	env, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	scheduler := trigger.NewScheduler(env.service, env.sessions.Store())
	if err := scheduler.RegisterRefresh(cfg.RecommendationsCron); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.NewServer(env.service, cfg.APIKeys,
		server.WithMemoryStore(env.memory),
		server.WithChatLog(env.chatLog),
		server.WithDataSources(env.registry),
		server.WithStore(env.db),
		server.WithCORSOrigins(serveCORSOrigins),
		server.WithRateLimit(cfg.RateLimitRPS),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("cron_entries", scheduler.Entries()).
		Str("db_driver", cfg.DBDriver).
		Bool("redis_bindings", cfg.RedisAddr != "").
		Msg("coach_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
