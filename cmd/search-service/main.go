// Search Service - Multi-Source Procurement Search
// =================================================
// This service fans a search request out across every enabled
// procurement source, consolidates/filters/enriches the results, and
// serves the pipeline's progress, timeline and status over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/tjsasakifln/bidiq/internal/archive"
	"github.com/tjsasakifln/bidiq/internal/arbiter"
	"github.com/tjsasakifln/bidiq/internal/consolidation"
	"github.com/tjsasakifln/bidiq/internal/filter"
	"github.com/tjsasakifln/bidiq/internal/httpapi"
	"github.com/tjsasakifln/bidiq/internal/pipeline"
	"github.com/tjsasakifln/bidiq/internal/progress"
	"github.com/tjsasakifln/bidiq/internal/quota"
	quotapg "github.com/tjsasakifln/bidiq/internal/quota/postgres"
	"github.com/tjsasakifln/bidiq/internal/sanctions"
	searchpg "github.com/tjsasakifln/bidiq/internal/search/postgres"
	"github.com/tjsasakifln/bidiq/internal/source"
	"github.com/tjsasakifln/bidiq/pkg/auth"
	"github.com/tjsasakifln/bidiq/pkg/config"
	"github.com/tjsasakifln/bidiq/pkg/database"
	"github.com/tjsasakifln/bidiq/pkg/logger"
	"github.com/tjsasakifln/bidiq/pkg/response"
	"github.com/tjsasakifln/bidiq/pkg/tracer"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	cfg.App.Name = "search-service"

	log := logger.New(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Caller: cfg.Logger.Caller,
	})
	log = log.With().Service(cfg.App.Name).Logger()
	logger.SetGlobal(log)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting search service")

	// spec.md's timeout-chain invariant never blocks startup: a
	// misconfigured deployment runs degraded rather than refusing to
	// start, but the near-inversion warning is logged up front.
	consCfg := consolidation.DefaultConfig()
	if cfg.Consolidation.FailoverTimeoutPerSource > 0 {
		consCfg.FailoverTimeoutPerSource = cfg.Consolidation.FailoverTimeoutPerSource
	}
	if cfg.Consolidation.DegradedGlobalTimeout > 0 {
		consCfg.DegradedGlobalTimeout = cfg.Consolidation.DegradedGlobalTimeout
	}
	consolidation.ValidateTimeoutChain(cfg.Server.FEProxyTimeout, cfg.Consolidation.FetchTimeout, consCfg, log)

	tr, err := tracer.New(&cfg.Tracer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer tr.Close(context.Background())

	db, err := database.NewPostgres(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db.DB, "postgres")

	redisClient, err := database.NewRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	mongoDB, err := database.NewMongoDB(&cfg.MongoDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer mongoDB.Close(context.Background())

	// Source adapters, filtered to the ones enabled at startup.
	allAdapters := map[string]source.Adapter{
		"PNCP":           source.NewPNCPAdapter("", log),
		"PORTAL_COMPRAS": source.NewPortalComprasAdapter("", log),
		"COMPRAS_GOV":    source.NewComprasGovAdapter("", log),
	}
	enabledAdapters := make(map[string]source.Adapter)
	for code, adapter := range allAdapters {
		if cfg.Sources.Enabled[code] {
			enabledAdapters[code] = adapter
		}
	}
	registry := source.NewRegistry(enabledAdapters)
	healthRegistry := registry.Health()

	consolidationEngine := consolidation.NewEngine(registry, nil, consCfg, log)

	arbiterClient := arbiter.NewClient(os.Getenv("OPENAI_API_KEY"), arbiter.Config{
		Enabled: cfg.Arbiter.Enabled,
		Model:   cfg.Arbiter.Model,
	}, log)

	sanctionsChecker := sanctions.NewChecker(cfg.Sanctions.APIKey, cfg.Sources.EncryptionKey, log)

	filterEngine := filter.NewEngine(arbiterClient, sanctionsChecker)

	searchRepo := searchpg.NewRepository(sqlxDB, log)
	quotaRepo := quotapg.NewRepository(sqlxDB)
	quotaSvc := quota.NewService(quotaRepo, cfg.Quota.AdminUserIDs, log)

	archiveStore := archive.NewStore(mongoDB.Database())

	progressRegistry := progress.NewRegistry(redisClient, log)

	sectors := pipeline.NewStaticSectorCatalog()
	summarizer := pipeline.NewSummarizer(os.Getenv("OPENAI_API_KEY"), pipeline.SummaryConfig{Enabled: cfg.Arbiter.Enabled}, log)
	notifier := pipeline.NewNotifier(cfg.AMQP, log)

	orchestrator := pipeline.NewOrchestrator(
		consolidationEngine,
		filterEngine,
		sectors,
		quotaSvc,
		searchRepo,
		progressRegistry,
		summarizer,
		notifier,
		archiveStore,
		cfg.Consolidation.FetchTimeout,
		log,
	)

	// Startup recovery: any search left non-terminal by a crash and
	// older than the cutoff is marked timed_out rather than hanging
	// forever.
	if recovered, err := searchRepo.RecoverStaleSearches(context.Background(), cfg.Consolidation.FetchTimeout*2); err != nil {
		log.Warn().Err(err).Msg("failed to recover stale searches at startup")
	} else if recovered > 0 {
		log.Info().Int("recovered", recovered).Msg("recovered stale searches from a previous crash")
	}

	jwtManager := auth.NewJWTManager(&cfg.JWT)

	adminIDs := make(map[string]struct{}, len(cfg.Quota.AdminUserIDs))
	for _, id := range cfg.Quota.AdminUserIDs {
		adminIDs[id] = struct{}{}
	}

	handler := httpapi.NewHandler(httpapi.Dependencies{
		Orchestrator: orchestrator,
		SearchRepo:   searchRepo,
		Progress:     progressRegistry,
		QuotaSvc:     quotaSvc,
		Health:       healthRegistry,
		JWT:          jwtManager,
		AdminIDs:     adminIDs,
		Log:          log,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	startTime := time.Now()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]response.HealthCheck)

		if err := db.Health(r.Context()); err != nil {
			checks["postgresql"] = response.HealthCheck{Status: "unhealthy", Message: err.Error()}
		} else {
			checks["postgresql"] = response.HealthCheck{Status: "healthy"}
		}

		if err := redisClient.Health(r.Context()); err != nil {
			checks["redis"] = response.HealthCheck{Status: "unhealthy", Message: err.Error()}
		} else {
			checks["redis"] = response.HealthCheck{Status: "healthy"}
		}

		if err := mongoDB.Health(r.Context()); err != nil {
			checks["mongodb"] = response.HealthCheck{Status: "unhealthy", Message: err.Error()}
		} else {
			checks["mongodb"] = response.HealthCheck{Status: "healthy"}
		}

		status := "healthy"
		for _, check := range checks {
			if check.Status != "healthy" {
				status = "unhealthy"
				break
			}
		}

		response.Health(w, status, Version, time.Since(startTime), checks)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("# Metrics placeholder\n"))
	})

	handler.RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
