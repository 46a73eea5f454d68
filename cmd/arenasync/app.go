// Package main is the entry point for the rack BOM sync CLI
// (SPEC_FULL.md §3), wired with spf13/cobra the way the teacher's
// internal/infrastructure/migrations.CLI composes subcommands over a
// shared set of long-lived dependencies.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wallcrawler78/arena-sheets-sync/internal/config"
	"github.com/wallcrawler78/arena-sheets-sync/internal/historystore/postgres"
	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
	"github.com/wallcrawler78/arena-sheets-sync/internal/redisstore"
	"github.com/wallcrawler78/arena-sheets-sync/internal/secretstore"
	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
	"github.com/wallcrawler78/arena-sheets-sync/pkg/logger"
)

// app bundles the dependencies every subcommand needs; each subcommand's
// RunE assembles one with newApp and releases it with close.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	secrets secretstore.Store
	session *plm.Session
	client  *plm.Client
	api     *plm.API
	cache   *plm.ItemCache
	history plm.HistoryRecorder
	loader  *plm.Loader
	sheets  tabularstore.Store // rack/grid sheet host; in-memory here, a real deployment wires a host adapter
	host    plm.HostConfig     // host-populated config (SPEC_FULL.md §4.11): position attribute id, bom level map

	pgPool *pgxpool.Pool // non-nil only when history.postgres_enabled
}

var configPath string

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	lg := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}).With("run_id", logger.GenerateRequestID())

	secrets := secretstore.NewMemory()
	if err := seedCredentialsFromEnv(ctx, secrets); err != nil {
		return nil, err
	}
	if err := secrets.Set(ctx, secretstore.KeyAPIBase, cfg.Arena.APIBase); err != nil {
		return nil, err
	}
	if err := secrets.Set(ctx, secretstore.KeyWorkspaceID, cfg.Arena.WorkspaceID); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Arena.RequestTimeout}
	session := plm.NewSession(secrets, httpClient, cfg.Arena.SessionTTL, lg)

	reg := prometheus.NewRegistry()
	clientMetrics := plm.NewClientMetrics(reg)
	client := plm.NewClient(session, httpClient, lg,
		plm.WithRateLimit(cfg.Arena.RateLimitRPS, cfg.Arena.RateLimitBurst),
		plm.WithMetrics(clientMetrics),
	)

	shardStore, err := buildShardStore(cfg, secrets, lg)
	if err != nil {
		return nil, err
	}
	cache := plm.NewItemCache(shardStore, cfg.Cache.FrontCacheSize, cfg.Cache.DefaultTTL, lg)
	api := plm.NewAPI(client, cache)

	history, pgPool, err := buildHistoryRecorder(ctx, cfg, lg)
	if err != nil {
		return nil, err
	}

	loader := plm.NewLoader(api, secrets, lg, 0)

	sheets := tabularstore.NewMemoryStore()
	host, err := plm.LoadHostConfig(ctx, sheets)
	if err != nil {
		return nil, fmt.Errorf("loading host config: %w", err)
	}

	return &app{
		cfg: cfg, log: lg, secrets: secrets, session: session, client: client,
		api: api, cache: cache, history: history, loader: loader, pgPool: pgPool,
		sheets: sheets, host: host,
	}, nil
}

func (a *app) close() {
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

// seedCredentialsFromEnv reads login credentials from the process
// environment into secrets, the CLI's credential entry point per
// spec.md §6 (credentials never live in process configuration files).
func seedCredentialsFromEnv(ctx context.Context, secrets secretstore.Store) error {
	email := os.Getenv("ARENASYNC_EMAIL")
	password := os.Getenv("ARENASYNC_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("ARENASYNC_EMAIL and ARENASYNC_PASSWORD must be set")
	}
	if err := secrets.Set(ctx, secretstore.KeyEmail, email); err != nil {
		return err
	}
	return secrets.Set(ctx, secretstore.KeyPassword, password)
}

// buildShardStore picks the Item Cache's shard backend per
// cache.backend (SPEC_FULL.md §3): the default host-property-backed
// store, or an optional shared Redis tier for multi-user hosts.
func buildShardStore(cfg *config.Config, secrets secretstore.Store, lg *slog.Logger) (plm.ShardStore, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return redisstore.New(redisstore.Config{Addr: cfg.Cache.RedisAddr, KeyPrefix: "arenasync"}, lg)
	default:
		return plm.NewPropertyShardStore(secrets), nil
	}
}

// buildHistoryRecorder wires the sheet-backed Change History Log and,
// when configured, fans writes out to the durable Postgres backend too
// (internal/plm.MultiRecorder), per SPEC_FULL.md §3.
func buildHistoryRecorder(ctx context.Context, cfg *config.Config, lg *slog.Logger) (plm.HistoryRecorder, *pgxpool.Pool, error) {
	// The in-memory tabularstore here stands in for a host-bound
	// spreadsheet (e.g. a Google Sheets adapter); a production deployment
	// wires a real tabularstore.Store implementation instead.
	sheetLog := plm.NewHistoryLog(tabularstore.NewMemoryStore())

	if !cfg.History.PostgresEnabled {
		return sheetLog, nil, nil
	}

	if err := postgres.Migrate(cfg.History.PostgresDSN, lg); err != nil {
		return nil, nil, fmt.Errorf("applying history store migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.History.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to history postgres: %w", err)
	}
	pgStore := postgres.New(pool, lg, postgres.NewMetrics(prometheus.DefaultRegisterer))
	return plm.MultiRecorder{sheetLog, pgStore}, pool, nil
}
