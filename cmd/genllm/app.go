package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aschepis/backscratcher/genllm/attachments"
	"github.com/aschepis/backscratcher/genllm/client"
	"github.com/aschepis/backscratcher/genllm/config"
	"github.com/aschepis/backscratcher/genllm/conversations"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/aschepis/backscratcher/genllm/metrics"
	"github.com/aschepis/backscratcher/genllm/migrations"
	"github.com/aschepis/backscratcher/genllm/pricing"
	"github.com/aschepis/backscratcher/genllm/retry"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

// app holds everything a command needs, built from the loaded config.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *llm.ProviderRegistry
	adapters *client.AdapterCache
	pricing  *pricing.Resolver
	store    conversations.Store
	loader   *attachments.Loader
	client   *client.Client

	metricsRegistry *prometheus.Registry
	db              *sql.DB
	sweeper         *conversations.Sweeper
	cancel          context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: llm.NewProviderRegistry(cfg.ProviderSettings()),
		adapters: client.NewAdapterCache(logger),
		pricing:  pricing.NewResolver(logger, pricing.WithTable(pricing.DefaultTable())),
		loader:   attachments.NewLoader(logger),
	}
	a.loader.MaxImageSize = cfg.Images.MaxSize
	if cfg.Images.Quality > 0 {
		a.loader.Quality = cfg.Images.Quality
	}

	ctx, a.cancel = context.WithCancel(ctx)

	if cfg.Pricing.File != "" {
		if err := a.pricing.SetPricingFile(cfg.Pricing.File); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load pricing file: %w", err)
		}
		if cfg.Pricing.Watch {
			w := pricing.NewWatcher(a.pricing, cfg.Pricing.File, logger)
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Warn().Err(err).Msg("Pricing watcher stopped")
				}
			}()
		}
	}

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Conversations.SweepSchedule != "" {
		if pruner, ok := a.store.(conversations.Pruner); ok {
			sweeper, err := conversations.NewSweeper(pruner, cfg.Conversations.SweepSchedule, cfg.Conversations.IdleTTL, logger)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to create sweeper: %w", err)
			}
			sweeper.Start(ctx)
			a.sweeper = sweeper
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		a.metricsRegistry = prometheus.NewRegistry()
		var err error
		collector, err = metrics.NewCollector(cfg.Metrics.Namespace, a.metricsRegistry)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	a.client = client.New(logger,
		client.WithStore(a.store),
		client.WithRetrier(retry.New(policy, logger)),
		client.WithPricing(a.pricing),
		client.WithMetrics(collector),
		client.WithSystemPrompt(cfg.SystemPrompt),
		client.WithMiddleware(client.AttemptLogger(logger)),
	)
	return a, nil
}

func (a *app) openStore() error {
	maxTurns := a.cfg.Conversations.MaxTurns
	switch a.cfg.Conversations.Backend {
	case "sqlite":
		dsn := a.cfg.Conversations.DSN
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		a.logger.Debug().Str("path", dsn).Msg("Opening conversation database")
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		// One connection keeps sqlite writes serialized and ":memory:" shared.
		db.SetMaxOpenConns(1)
		a.db = db
		if err := migrations.RunMigrations(db, a.logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.store = conversations.NewSQLStore(db, maxTurns, a.logger)
	default:
		a.store = conversations.NewMemoryStore(a.logger, conversations.WithMaxTurns(maxTurns))
	}
	return nil
}

// adapter resolves provider and model into a ready adapter and the model to
// request.
func (a *app) adapter(provider, model string) (llm.Client, string, error) {
	if provider == "" {
		provider = a.cfg.DefaultProvider
	}
	key, err := a.registry.ResolveClientKey(provider, model)
	if err != nil {
		return nil, "", err
	}
	adapter, err := a.adapters.Get(key, a.cfg.Timeout(key.Provider))
	if err != nil {
		return nil, "", err
	}
	return adapter, key.Model, nil
}

// writeMetrics dumps the collected metrics in the Prometheus text format.
func (a *app) writeMetrics(w io.Writer) error {
	if a.metricsRegistry == nil {
		return nil
	}
	families, err := a.metricsRegistry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Close stops background work and closes the database.
func (a *app) Close() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
