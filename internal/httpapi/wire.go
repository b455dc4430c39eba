//go:build wireinject
// +build wireinject

// This file documents the search service's dependency graph via
// google/wire, mirroring the teacher's internal/customer/wire.go. It is
// never compiled into the binary (the wireinject build tag excludes
// it) — cmd/search-service/main.go hand-wires the same graph, exactly
// as the teacher's cmd/sales-service/main.go hand-wires
// internal/sales's use cases instead of calling a generated
// sales.InitializeService.
package httpapi

import (
	"github.com/google/wire"
	"github.com/jmoiron/sqlx"

	"github.com/tjsasakifln/bidiq/internal/archive"
	"github.com/tjsasakifln/bidiq/internal/arbiter"
	"github.com/tjsasakifln/bidiq/internal/consolidation"
	"github.com/tjsasakifln/bidiq/internal/filter"
	"github.com/tjsasakifln/bidiq/internal/pipeline"
	"github.com/tjsasakifln/bidiq/internal/progress"
	"github.com/tjsasakifln/bidiq/internal/quota"
	quotapg "github.com/tjsasakifln/bidiq/internal/quota/postgres"
	"github.com/tjsasakifln/bidiq/internal/sanctions"
	"github.com/tjsasakifln/bidiq/internal/search"
	searchpg "github.com/tjsasakifln/bidiq/internal/search/postgres"
	"github.com/tjsasakifln/bidiq/internal/source"
	"github.com/tjsasakifln/bidiq/pkg/config"
	"github.com/tjsasakifln/bidiq/pkg/database"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

// ProviderSet is the wire provider set for the search service.
var ProviderSet = wire.NewSet(
	ProvideSourceRegistry,
	ProvideConsolidationEngine,
	ProvideArbiterClient,
	ProvideSanctionsChecker,
	ProvideFilterEngine,
	ProvideSearchRepository,
	ProvideQuotaRepository,
	ProvideQuotaService,
	ProvideArchiveStore,
	ProvideProgressRegistry,

	ProvideOrchestrator,
	ProvideHandler,
)

// ProvideSourceRegistry builds the enabled-source adapter registry.
func ProvideSourceRegistry(cfg *config.Config, log *logger.Logger) *source.Registry {
	adapters := map[string]source.Adapter{
		"PNCP":           source.NewPNCPAdapter("", log),
		"PORTAL_COMPRAS": source.NewPortalComprasAdapter("", log),
		"COMPRAS_GOV":    source.NewComprasGovAdapter("", log),
	}
	enabled := make(map[string]source.Adapter)
	for code, adapter := range adapters {
		if cfg.Sources.Enabled[code] {
			enabled[code] = adapter
		}
	}
	return source.NewRegistry(enabled)
}

// ProvideConsolidationEngine builds the fan-out/dedup engine.
func ProvideConsolidationEngine(registry *source.Registry, cfg *config.Config, log *logger.Logger) *consolidation.Engine {
	consCfg := consolidation.DefaultConfig()
	return consolidation.NewEngine(registry, nil, consCfg, log)
}

// ProvideArbiterClient builds the LLM relevance arbiter.
func ProvideArbiterClient(cfg *config.Config, log *logger.Logger) *arbiter.Client {
	return arbiter.NewClient("", arbiter.Config{Enabled: cfg.Arbiter.Enabled, Model: cfg.Arbiter.Model}, log)
}

// ProvideSanctionsChecker builds the Portal da Transparência sanctions
// cache/client.
func ProvideSanctionsChecker(cfg *config.Config, log *logger.Logger) *sanctions.Checker {
	return sanctions.NewChecker(cfg.Sanctions.APIKey, cfg.Sources.EncryptionKey, log)
}

// ProvideFilterEngine builds the ten-layer filter engine.
func ProvideFilterEngine(arb *arbiter.Client, sanc *sanctions.Checker) *filter.Engine {
	return filter.NewEngine(arb, sanc)
}

// ProvideSearchRepository builds the Postgres-backed search repository.
func ProvideSearchRepository(db *sqlx.DB, log *logger.Logger) search.Repository {
	return searchpg.NewRepository(db, log)
}

// ProvideQuotaRepository builds the Postgres-backed quota repository.
func ProvideQuotaRepository(db *sqlx.DB) quota.Repository {
	return quotapg.NewRepository(db)
}

// ProvideQuotaService builds the quota service.
func ProvideQuotaService(repo quota.Repository, cfg *config.Config, log *logger.Logger) *quota.Service {
	return quota.NewService(repo, cfg.Quota.AdminUserIDs, log)
}

// ProvideArchiveStore builds the MongoDB procurement archive.
func ProvideArchiveStore(mongo *database.MongoDB) pipeline.ArchiveStore {
	return archive.NewStore(mongo.Database())
}

// ProvideProgressRegistry builds the SSE progress registry.
func ProvideProgressRegistry(redis *database.RedisClient, log *logger.Logger) *progress.Registry {
	return progress.NewRegistry(redis, log)
}

// ProvideOrchestrator builds the search pipeline orchestrator.
func ProvideOrchestrator(
	cons *consolidation.Engine,
	filterEngine *filter.Engine,
	quotaSvc *quota.Service,
	repo search.Repository,
	progressRegistry *progress.Registry,
	archiveStore pipeline.ArchiveStore,
	cfg *config.Config,
	log *logger.Logger,
) *pipeline.Orchestrator {
	sectors := pipeline.NewStaticSectorCatalog()
	summarizer := pipeline.NewSummarizer("", pipeline.SummaryConfig{}, log)
	notifier := pipeline.NewNotifier(cfg.AMQP, log)
	return pipeline.NewOrchestrator(
		cons, filterEngine, sectors, quotaSvc, repo, progressRegistry,
		summarizer, notifier, archiveStore, cfg.Consolidation.FetchTimeout, log,
	)
}

// ProvideHandler builds the HTTP handler.
func ProvideHandler(deps Dependencies) *Handler {
	return NewHandler(deps)
}

// InitializeHandler wires the whole search-service dependency graph
// down to the HTTP handler. Never called at runtime — see the package
// doc comment.
func InitializeHandler(cfg *config.Config, log *logger.Logger, db *sqlx.DB, redis *database.RedisClient, mongo *database.MongoDB) (*Handler, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
