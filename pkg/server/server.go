// Package server provides the public entry point for initializing the
// PostGen server.
//
// This package lives in pkg/ (not internal/) so that other programs can
// embed the server and wrap its handler with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/postgen/postgen/internal/api"
	"github.com/postgen/postgen/internal/api/handlers"
	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/facts"
	"github.com/postgen/postgen/internal/llm"
	"github.com/postgen/postgen/internal/pipeline"
	"github.com/postgen/postgen/internal/ratelimit"
	"github.com/postgen/postgen/internal/retention"
	"github.com/postgen/postgen/internal/store"
	"github.com/postgen/postgen/internal/telemetry"
	"github.com/postgen/postgen/pkg/contracts"
)

// Server holds the initialized PostGen server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the usage ledger.
	Store contracts.UsageStore

	// Config is the server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown. It stops the
	// retention janitor and flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration and initializes every component.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	ledger, err := openStore(ctx, cfg.Store)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	factory := llm.NewFactory(cfg.LLM)
	if factory.Configured() {
		log.Info().Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Msg("✅ LLM provider configured")
	} else {
		log.Warn().Str("provider", cfg.LLM.Provider).Msg("No server API key, callers must send X-API-Key")
	}

	var factProvider contracts.FactProvider = facts.Disabled
	if cfg.Facts.Enabled {
		factProvider = facts.NewCached(facts.NewWebProvider(cfg.Facts), cfg.Facts.CacheSize, cfg.Facts.CacheTTL)
		log.Info().Str("search", cfg.Facts.SearchURL).Dur("cache_ttl", cfg.Facts.CacheTTL).Msg("✅ Fact provider initialized")
	} else {
		log.Info().Msg("🔕 Fact provider disabled")
	}

	var rates map[string]float64
	if cfg.LLM.RatePerToken > 0 {
		rates = map[string]float64{cfg.LLM.Model: cfg.LLM.RatePerToken}
	}
	gen := pipeline.New(factProvider, pipeline.Options{
		Defaults:        cfg.Generation,
		Rates:           llm.NewRateTable(rates, cfg.LLM.DefaultRate),
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.MaxClients)
		log.Info().Int("requests", cfg.RateLimit.Requests).Dur("window", cfg.RateLimit.Window).Msg("✅ Rate limiter initialized")
	}

	h := handlers.New(cfg, gen, factory, ledger)
	router := api.NewRouter(cfg, h, limiter)

	stopJanitor := startJanitor(cfg.Store, ledger)

	return &Server{
		Handler: router,
		Store:   ledger,
		Config:  cfg,
		Port:    cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			stopJanitor()
			return shutdown(ctx)
		},
	}, nil
}

// startJanitor launches the retention janitor when a retention window is
// configured and returns a function that stops it.
func startJanitor(cfg config.StoreConfig, ledger store.Store) context.CancelFunc {
	if cfg.Retention <= 0 {
		log.Info().Msg("🔕 Usage retention disabled, records are kept forever")
		return func() {}
	}

	var archiver retention.Archiver
	if cfg.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(cfg.ArchiveDir, cfg.ArchiveCompress)
		if err := archiver.HealthCheck(context.Background()); err != nil {
			log.Warn().Err(err).Str("dir", cfg.ArchiveDir).Msg("Usage archive not writable, expired records will not be pruned")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go retention.NewJanitor(ledger, cfg.PruneInterval, cfg.Retention, archiver).Start(ctx)
	return cancel
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.Path).Msg("✅ SQLite usage ledger initialized")
		return s, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL usage ledger initialized")
		return s, nil
	default:
		s := store.NewMemoryStore(store.MemoryOptions{DataDir: cfg.DataDir})
		log.Info().Msg("✅ In-memory usage ledger initialized")
		return s, nil
	}
}
