// Package pipeline implements spec.md §4.11's 8-stage search
// orchestration: validate, quota-check, fetch, filter, enrich,
// generate, persist, notify. The Orchestrator is the single place that
// wires internal/consolidation, internal/filter, internal/quota,
// internal/search, internal/statemachine and internal/progress
// together around one search execution.
//
// Grounded on original_source/backend/search_state_manager.py's
// top-level run_search orchestration shape (state transitions bracket
// every stage) and the teacher's service-layer pattern of a single
// struct holding every collaborator a use case needs (e.g.
// internal/usecase's lead-creation flow), adapted from a handler-owned
// use case into a domain-owned pipeline here since this system has no
// HTTP-framework-coupled service layer to imitate beyond that shape.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjsasakifln/bidiq/internal/consolidation"
	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/internal/filter"
	"github.com/tjsasakifln/bidiq/internal/progress"
	"github.com/tjsasakifln/bidiq/internal/quota"
	"github.com/tjsasakifln/bidiq/internal/search"
	"github.com/tjsasakifln/bidiq/internal/source"
	"github.com/tjsasakifln/bidiq/internal/statemachine"
	"github.com/tjsasakifln/bidiq/pkg/errors"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

// Request carries one search's client-supplied parameters, validated by
// validateRequest before any stage runs.
type Request struct {
	UserID          uuid.UUID
	SectorID        string
	CustomTerms     []string
	UFs             []string
	DateFrom        *time.Time
	DateTo          *time.Time
	StatusFilters   []string
	ModalityFilters []int
	ValorMin        float64
	ValorMax        float64
	Esferas         []string
	Municipios      []string
	OpenOnly        bool
	Ordering         filter.Ordering
	AllowRelaxation  bool
	UseRedisProgress bool
}

// ArchiveStore persists every item a completed search surfaced into the
// procurement archive read model. Implemented by internal/archive.Store;
// declared locally so this package has no import-time dependency on the
// mongo driver.
type ArchiveStore interface {
	Archive(ctx context.Context, searchID string, items []*domain.UnifiedProcurement) error
}

// Orchestrator runs the full search pipeline for one request at a time.
// A single Orchestrator instance is safe for concurrent use across
// many in-flight searches — every piece of mutable per-search state
// lives in local variables of Run, not on the struct.
type Orchestrator struct {
	consolidation *consolidation.Engine
	filterEngine  *filter.Engine
	sectors       SectorCatalog
	quotaSvc      *quota.Service
	repo          search.Repository
	progress      *progress.Registry
	summarizer    *Summarizer
	notifier      *Notifier
	archive       ArchiveStore
	fetchTimeout  time.Duration
	log           *logger.Logger
}

// NewOrchestrator wires an Orchestrator from its collaborators.
// fetchTimeout is spec.md's SEARCH_FETCH_TIMEOUT, the deadline budget
// covering the consolidation, filter and summary-generation stages; the
// persist writes, state transitions and notify run on the caller's ctx
// and are not bounded by it.
// archive may be nil, in which case the archive stage is skipped
// entirely (e.g. in tests, or when MongoDB is not configured).
func NewOrchestrator(
	consolidationEngine *consolidation.Engine,
	filterEngine *filter.Engine,
	sectors SectorCatalog,
	quotaSvc *quota.Service,
	repo search.Repository,
	progressRegistry *progress.Registry,
	summarizer *Summarizer,
	notifier *Notifier,
	archive ArchiveStore,
	fetchTimeout time.Duration,
	log *logger.Logger,
) *Orchestrator {
	if fetchTimeout <= 0 {
		fetchTimeout = 360 * time.Second
	}
	return &Orchestrator{
		consolidation: consolidationEngine,
		filterEngine:  filterEngine,
		sectors:       sectors,
		quotaSvc:      quotaSvc,
		repo:          repo,
		progress:      progressRegistry,
		summarizer:    summarizer,
		notifier:      notifier,
		archive:       archive,
		fetchTimeout:  fetchTimeout,
		log:           log,
	}
}

// normalizeRecord dispatches a raw adapter payload to its source's
// normalize function — the per-source Normalize* functions in
// internal/source each take only the raw payload, so the consolidation
// engine's sourceCode-keyed normalize contract is satisfied here.
func normalizeRecord(sourceCode string, raw map[string]interface{}) (*domain.UnifiedProcurement, error) {
	switch sourceCode {
	case "PNCP":
		return source.NormalizePNCP(raw)
	case "PORTAL_COMPRAS":
		return source.NormalizePortalCompras(raw)
	case "COMPRAS_GOV":
		return source.NormalizeComprasGov(raw)
	default:
		return nil, &unknownSourceError{code: sourceCode}
	}
}

type unknownSourceError struct{ code string }

func (e *unknownSourceError) Error() string {
	return "pipeline: no normalizer registered for source " + e.code
}

// Run executes the full 8-stage pipeline for req, returning the
// completed Search aggregate. On any stage failure the search is
// persisted in its terminal failure state and the triggering error is
// returned — callers must not assume a non-nil error means nothing was
// persisted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*search.Search, error) {
	searchID := uuid.New()
	machine := statemachine.New(searchID.String())
	tracker := o.progress.Create(ctx, searchID.String(), len(req.UFs), req.UseRedisProgress)

	agg := &search.Search{
		SearchID: searchID,
		UserID:   req.UserID,
		Inputs: search.Inputs{
			Sectors:         sectorSlice(req.SectorID),
			UFs:             req.UFs,
			DateFrom:        req.DateFrom,
			DateTo:          req.DateTo,
			CustomTerms:     req.CustomTerms,
			StatusFilters:   req.StatusFilters,
			ModalityFilters: req.ModalityFilters,
			ValorMin:        &req.ValorMin,
			ValorMax:        &req.ValorMax,
		},
		StartedAt: time.Now(),
		UFsTotal:  len(req.UFs),
	}

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateCreated, "validate", "Busca criada", nil); err != nil {
		return nil, err
	}

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateValidating, "validate", "Validando parâmetros", nil); err != nil {
		return nil, err
	}
	if err := o.validateRequest(req); err != nil {
		return o.fail(ctx, machine, tracker, agg, "validate", err)
	}

	quotaInfo := o.quotaSvc.CheckQuota(ctx, req.UserID)
	if !quotaInfo.Allowed {
		return o.rateLimit(ctx, machine, tracker, agg, quotaInfo.ErrorMessage)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateFetching, "fetch", "Buscando licitações nas fontes configuradas", nil); err != nil {
		return nil, err
	}

	q := source.Query{
		UFs:      req.UFs,
		Keyword:  strings.Join(req.CustomTerms, " "),
		ValorMin: req.ValorMin,
		ValorMax: req.ValorMax,
	}
	if req.DateFrom != nil {
		q.DataInicial = *req.DateFrom
	}
	if req.DateTo != nil {
		q.DataFinal = *req.DateTo
	}

	consolidated, err := o.consolidation.Run(fetchCtx, normalizeRecord, q)
	if err != nil {
		return o.fail(ctx, machine, tracker, agg, "fetch", err)
	}
	agg.TotalRaw = len(consolidated.Items)

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateFiltering, "filter", "Aplicando filtros de relevância", nil); err != nil {
		return nil, err
	}

	var sector *filter.Sector
	if req.SectorID != "" {
		sector, _ = o.sectors.Get(req.SectorID)
	}
	filterCfg := filter.Config{
		UFs:             toStringSet(req.UFs),
		Modalities:      toIntSet(req.ModalityFilters),
		ValorMin:        req.ValorMin,
		ValorMax:        req.ValorMax,
		Status:          toStringSet(req.StatusFilters),
		Esferas:         toStringSet(req.Esferas),
		Municipios:      toStringSet(req.Municipios),
		OpenOnly:        req.OpenOnly,
		Sector:          sector,
		CustomKeywords:  req.CustomTerms,
		MinMatch:        1,
		CheckSanctions:  true,
		Ordering:        req.Ordering,
		AllowRelaxation: req.AllowRelaxation,
	}

	filtered, err := o.filterEngine.Run(fetchCtx, consolidated.Items, filterCfg)
	if err != nil {
		return o.fail(ctx, machine, tracker, agg, "filter", err)
	}
	agg.TotalFiltered = len(filtered.Items)

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateEnriching, "enrich", "Calculando indicadores de urgência", nil); err != nil {
		return nil, err
	}

	var valorTotal float64
	for _, item := range filtered.Items {
		valorTotal += item.ValorEstimado
	}
	agg.ValorTotal = valorTotal

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateGenerating, "generate", "Gerando resumo executivo", nil); err != nil {
		return nil, err
	}

	sectorOrTerms := sectorOrTermsLabel(sector, req.CustomTerms)
	summary := o.summarizer.Generate(fetchCtx, filtered.Items, sectorOrTerms)
	agg.ResumoExecutivo = summary.ResumoExecutivo
	agg.Destaques = summary.Destaques

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StatePersisting, "persist", "Salvando resultados", nil); err != nil {
		return nil, err
	}
	if err := o.repo.UpdateResults(ctx, searchID, agg.TotalRaw, agg.TotalFiltered, agg.ValorTotal); err != nil && o.log != nil {
		o.log.Warn().Err(err).Str("search_id", searchID.String()).Msg("failed to persist search results")
	}
	if err := o.repo.UpdateSummary(ctx, searchID, agg.ResumoExecutivo, agg.Destaques); err != nil && o.log != nil {
		o.log.Warn().Err(err).Str("search_id", searchID.String()).Msg("failed to persist search summary")
	}
	o.archiveItems(searchID.String(), filtered.Items)

	if err := o.transition(ctx, machine, tracker, agg, statemachine.StateCompleted, "persist", "Busca concluída", nil); err != nil {
		return nil, err
	}
	tracker.EmitComplete(ctx)

	o.notifier.Publish(ctx, "search.completed", searchID.String(), string(statemachine.StateCompleted), map[string]interface{}{
		"total_filtered": agg.TotalFiltered,
		"valor_total":    agg.ValorTotal,
	})

	return agg, nil
}

// fail transitions the search to StateFailed, persists it, notifies,
// and returns the triggering error unchanged so the caller sees the
// original cause (ErrAllSourcesFailed, ErrValidation, etc.).
func (o *Orchestrator) fail(ctx context.Context, machine *statemachine.Machine, tracker *progress.Tracker, agg *search.Search, stage string, cause error) (*search.Search, error) {
	details := map[string]interface{}{"error_message": cause.Error()}
	_ = o.transition(ctx, machine, tracker, agg, statemachine.StateFailed, stage, "Busca falhou: "+cause.Error(), details)
	agg.ErrorMessage = cause.Error()
	tracker.EmitError(ctx, cause.Error())
	o.notifier.Publish(ctx, "search.failed", agg.SearchID.String(), string(statemachine.StateFailed), details)
	return nil, cause
}

// rateLimit transitions the search to StateRateLimited (quota exceeded
// or trial expired) — the closest terminal state in the closed status
// enum, since no dedicated quota-check state exists (DESIGN.md).
func (o *Orchestrator) rateLimit(ctx context.Context, machine *statemachine.Machine, tracker *progress.Tracker, agg *search.Search, reason string) (*search.Search, error) {
	_ = o.transition(ctx, machine, tracker, agg, statemachine.StateRateLimited, "validate", reason, map[string]interface{}{"reason": reason})
	agg.ErrorMessage = reason
	tracker.EmitError(ctx, reason)
	o.notifier.Publish(ctx, "search.failed", agg.SearchID.String(), string(statemachine.StateRateLimited), map[string]interface{}{"reason": reason})
	return nil, errors.ErrQuotaExceeded(reason)
}

// transition advances the state machine, persisting both the transition
// log entry and the search's current state, and emits an SSE progress
// event. An invalid transition (should never happen on the happy path)
// is logged at error level and returned without panicking.
func (o *Orchestrator) transition(ctx context.Context, machine *statemachine.Machine, tracker *progress.Tracker, agg *search.Search, to statemachine.State, stage, message string, details map[string]interface{}) error {
	from := machine.CurrentState()
	t, ok := machine.TransitionTo(to, stage, details)
	if !ok {
		err := statemachine.ErrInvalidTransition(machine.SearchID, from, to)
		if o.log != nil {
			o.log.Error().Err(err).Msg("invalid search state transition")
		}
		return err
	}

	agg.Status = to
	agg.PipelineStage = stage

	if from == "" {
		if err := o.repo.Create(ctx, agg); err != nil {
			if o.log != nil {
				o.log.Error().Err(err).Str("search_id", agg.SearchID.String()).Msg("failed to create search record")
			}
			return err
		}
	}

	if err := o.repo.AppendTransition(ctx, t); err != nil && o.log != nil {
		o.log.Warn().Err(err).Str("search_id", agg.SearchID.String()).Msg("failed to persist state transition")
	}

	var completedAt *time.Time
	if statemachine.IsTerminal(to) {
		now := time.Now()
		completedAt = &now
		agg.CompletedAt = &now
	}
	if from != "" {
		if err := o.repo.UpdateState(ctx, agg.SearchID, to, stage, completedAt); err != nil && o.log != nil {
			o.log.Warn().Err(err).Str("search_id", agg.SearchID.String()).Msg("failed to persist search state")
		}
	}

	if tracker != nil {
		tracker.Emit(ctx, stage, statemachine.EstimateProgress(to), message, details)
	}
	return nil
}

// archiveTimeout bounds the best-effort archive write so a slow or down
// MongoDB instance never holds up the pipeline — mirrors Notifier's
// dialTimeout-bounded fire-and-forget shape (notify.go).
const archiveTimeout = 5 * time.Second

// archiveItems writes filtered items to the procurement archive,
// detached from the request's own context so a caller cancellation
// never aborts the write mid-flight. Failures are logged and swallowed:
// the archive is a supplementary read model, never a source of truth
// the pipeline depends on to complete a search.
func (o *Orchestrator) archiveItems(searchID string, items []*domain.UnifiedProcurement) {
	if o.archive == nil || len(items) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := o.archive.Archive(ctx, searchID, items); err != nil && o.log != nil {
			o.log.Warn().Err(err).Str("search_id", searchID).Msg("failed to archive procurement items, continuing without it")
		}
	}()
}

func sectorSlice(sectorID string) []string {
	if sectorID == "" {
		return nil
	}
	return []string{sectorID}
}

func sectorOrTermsLabel(sector *filter.Sector, customTerms []string) string {
	if sector != nil {
		return sector.Name
	}
	return strings.Join(customTerms, ", ")
}

func toStringSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func toIntSet(values []int) map[int]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[int]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
