package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/agent/tools"
	"github.com/hashitfit/coach/internal/artifacts"
	"github.com/hashitfit/coach/internal/assistant"
	"github.com/hashitfit/coach/internal/chatlog"
	"github.com/hashitfit/coach/internal/config"
	"github.com/hashitfit/coach/internal/datasource"
	"github.com/hashitfit/coach/internal/documents"
	"github.com/hashitfit/coach/internal/memory"
	"github.com/hashitfit/coach/internal/session"
	"github.com/hashitfit/coach/internal/store"
)

// Tool and workflow failure budgets.
const (
	toolFailureThreshold    = 3
	toolFailureWindow       = 5 * time.Minute
	breakerFailureThreshold = 5
	breakerWindow           = 60 * time.Second
)

// newBackend builds the remote assistant client. Tests swap it for a fake.
var newBackend = func(cfg *config.Config) (assistant.Backend, error) {
	if err := cfg.RequireRemote(); err != nil {
		return nil, err
	}
	return assistant.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
		assistant.WithRateLimit(cfg.RemoteRPS)), nil
}

// runtimeEnv holds everything a command that drives assistants needs.
type runtimeEnv struct {
	cfg       *config.Config
	db        *store.DB
	redis     *redis.Client
	registry  *datasource.Registry
	memory    *memory.Store
	documents *documents.Store
	chatLog   *chatlog.Log
	sessions  *session.Manager
	service   *agent.Service
}

// Close releases the store and the Redis client.
func (e *runtimeEnv) Close() error {
	var errs []error
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}

// loadConfig resolves configuration and makes sure the data directory exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return cfg, nil
}

// openStore opens the relational store for commands that never call the
// assistant service.
func openStore(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return db, nil
}

// loadCatalog returns the data source descriptors: the YAML catalog when
// configured, else the data_sources table, else the built-in catalog.
func loadCatalog(ctx context.Context, cfg *config.Config, db *store.DB) ([]datasource.Descriptor, string, error) {
	if cfg.CatalogPath != "" {
		descs, err := datasource.LoadYAML(cfg.CatalogPath)
		if err != nil {
			return nil, "", err
		}
		return descs, cfg.CatalogPath, nil
	}
	descs, err := datasource.LoadFromDB(ctx, db)
	if err != nil {
		return nil, "", err
	}
	if len(descs) > 0 {
		return descs, "database", nil
	}
	return datasource.DefaultCatalog(), "built-in", nil
}

// openBindingStore picks Redis when an address is configured.
func openBindingStore(ctx context.Context, cfg *config.Config, db *store.DB) (session.BindingStore, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		return session.NewSQLBindingStore(db), nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return session.NewRedisBindingStore(rdb, session.DefaultRedisPrefix), rdb, nil
}

// buildRuntime wires the store, tools, assistant backend and workflow
// service. The caller must Close the result.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtimeEnv, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &runtimeEnv{cfg: cfg, db: db}

	descs, origin, err := loadCatalog(ctx, cfg, db)
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("loading data source catalog: %w", err)
	}
	env.registry, err = datasource.NewRegistry(descs)
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("data source catalog: %w", err)
	}
	log.Debug().Str("catalog", origin).Int("sources", len(env.registry.Active())).Msg("catalog_loaded")

	bindings, rdb, err := openBindingStore(ctx, cfg, db)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	env.redis = rdb

	env.memory = memory.NewStore(db)
	env.documents = documents.NewStore(db)
	env.chatLog = chatlog.New(db)
	env.sessions = session.NewManager(backend, bindings)

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		Memory:    env.memory,
		Documents: env.documents,
		Data:      datasource.NewService(env.registry, db),
	})
	dispatcher := tools.NewDispatcher(registry,
		tools.WithFailureTracker(tools.NewFailureTracker(toolFailureThreshold, toolFailureWindow)))

	env.service = agent.NewService(cfg, agent.Deps{
		Backend:    backend,
		Sessions:   env.sessions,
		Dispatcher: dispatcher,
		Artifacts:  artifacts.NewStore(db),
		ChatLog:    env.chatLog,
		Breaker:    agent.NewCircuitBreaker(breakerFailureThreshold, breakerWindow),
	})
	return env, nil
}
