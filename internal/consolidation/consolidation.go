// Package consolidation fans a search query out to every configured
// source adapter in parallel, applies health-aware deadline widening,
// deduplicates by dedup key and adapter priority, and falls back to a
// last-resort adapter only when every primary/secondary source failed.
//
// Grounded on original_source/backend/consolidation.py, with timeout
// constants taken from spec.md's literal values (DESIGN.md decision 1).
package consolidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/internal/source"
	"github.com/tjsasakifln/bidiq/pkg/logger"
	"github.com/tjsasakifln/bidiq/pkg/tracer"
)

// Config carries the consolidation timeout chain. Defaults are spec.md's
// literal FAILOVER_TIMEOUT_PER_SOURCE / DEGRADED_GLOBAL_TIMEOUT /
// FALLBACK_TIMEOUT values.
type Config struct {
	TimeoutPerSource       time.Duration
	TimeoutGlobal          time.Duration
	FailoverTimeoutPerSource time.Duration
	DegradedGlobalTimeout  time.Duration
	FallbackTimeout        time.Duration
	FailOnAllErrors        bool
}

// DefaultConfig returns spec.md's literal consolidation constants.
func DefaultConfig() Config {
	return Config{
		TimeoutPerSource:         90 * time.Second,
		TimeoutGlobal:            300 * time.Second,
		FailoverTimeoutPerSource: 120 * time.Second,
		DegradedGlobalTimeout:    360 * time.Second,
		FallbackTimeout:          40 * time.Second,
		FailOnAllErrors:          true,
	}
}

// TaskStatus is the outcome of one source's fetch attempt.
type TaskStatus string

const (
	TaskSuccess  TaskStatus = "success"
	TaskTimeout  TaskStatus = "timeout"
	TaskError    TaskStatus = "error"
	TaskSkipped  TaskStatus = "skipped"
	TaskDisabled TaskStatus = "disabled"
)

// TaskResult is the per-source outcome of a consolidation run.
type TaskResult struct {
	SourceCode string
	Status     TaskStatus
	Records    []*domain.UnifiedProcurement
	DurationMS int64
	Err        error
}

// Result aggregates every source's TaskResult into the final
// deduplicated record set.
type Result struct {
	Items             []*domain.UnifiedProcurement
	TaskResults       []TaskResult
	IsPartial         bool
	DegradationReason string
}

// AllSourcesFailedError is returned when every adapter, including the
// fallback, failed and FailOnAllErrors is set.
type AllSourcesFailedError struct {
	Errors map[string]error
}

func (e *AllSourcesFailedError) Error() string {
	return fmt.Sprintf("all %d sources failed", len(e.Errors))
}

// Engine runs the fan-out/dedup algorithm over a source.Registry.
type Engine struct {
	registry *source.Registry
	fallback source.Adapter
	config   Config
	log      *logger.Logger
}

// NewEngine builds a consolidation Engine. fallback may be nil if no
// last-resort adapter is configured.
func NewEngine(registry *source.Registry, fallback source.Adapter, config Config, log *logger.Logger) *Engine {
	return &Engine{registry: registry, fallback: fallback, config: config, log: log}
}

// Run executes the fan-out against every registered adapter and returns
// the consolidated, deduplicated result.
func (e *Engine) Run(ctx context.Context, normalize func(sourceCode string, raw map[string]interface{}) (*domain.UnifiedProcurement, error), q source.Query) (*Result, error) {
	ctx, span := tracer.Start(ctx, "consolidation.Run", attribute.StringSlice("ufs", q.UFs))
	defer span.End()

	health := e.registry.Health()
	dominant := e.registry.DominantSource()

	perSourceTimeout := e.config.TimeoutPerSource
	globalTimeout := e.config.TimeoutGlobal
	if dominant != nil && health.Status(dominant.Metadata().Code) != source.StatusAvailable {
		perSourceTimeout = e.config.FailoverTimeoutPerSource
		globalTimeout = e.config.DegradedGlobalTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, globalTimeout)
	defer cancel()

	adapters := e.registry.All()
	results := make([]TaskResult, len(adapters))

	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(i int, adapter source.Adapter) {
			defer wg.Done()
			results[i] = e.runOne(ctx, adapter, normalize, q, perSourceTimeout)

			if results[i].Status == TaskSuccess {
				health.RecordSuccess(adapter.Metadata().Code)
			} else if results[i].Status != TaskSkipped && results[i].Status != TaskDisabled {
				health.RecordFailure(adapter.Metadata().Code)
			}
		}(i, adapter)
	}
	wg.Wait()

	allFailed := true
	var failedCodes []string
	errs := make(map[string]error)
	for _, r := range results {
		if r.Status == TaskSuccess {
			allFailed = false
		} else if r.Err != nil {
			failedCodes = append(failedCodes, r.SourceCode)
			errs[r.SourceCode] = r.Err
		}
	}

	if allFailed && e.fallback != nil {
		fallbackResult := e.runOne(ctx, e.fallback, normalize, q, e.config.FallbackTimeout)
		results = append(results, fallbackResult)
		if fallbackResult.Status == TaskSuccess {
			allFailed = false
		} else if fallbackResult.Err != nil {
			errs[fallbackResult.SourceCode] = fallbackResult.Err
		}
	}

	if allFailed && e.config.FailOnAllErrors {
		return nil, &AllSourcesFailedError{Errors: errs}
	}

	items := dedup(results)

	return &Result{
		Items:             items,
		TaskResults:       results,
		IsPartial:         len(failedCodes) > 0 && !allFailed,
		DegradationReason: degradationReason(failedCodes),
	}, nil
}

func degradationReason(failedCodes []string) string {
	if len(failedCodes) == 0 {
		return ""
	}
	reason := "degraded sources: "
	for i, c := range failedCodes {
		if i > 0 {
			reason += ", "
		}
		reason += c
	}
	return reason
}

func (e *Engine) runOne(ctx context.Context, adapter source.Adapter, normalize func(string, map[string]interface{}) (*domain.UnifiedProcurement, error), q source.Query, timeout time.Duration) TaskResult {
	code := adapter.Metadata().Code

	ctx, span := tracer.Start(ctx, "consolidation.fetchSource", attribute.String("source.code", code))
	defer span.End()

	start := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetched, err := adapter.Fetch(taskCtx, q)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		status := TaskError
		if taskCtx.Err() == context.DeadlineExceeded {
			status = TaskTimeout
		}
		tracer.RecordError(ctx, err, attribute.String("source.code", code))
		return TaskResult{SourceCode: code, Status: status, DurationMS: duration, Err: err}
	}

	records := make([]*domain.UnifiedProcurement, 0, len(fetched))
	for _, item := range fetched {
		rec, err := normalize(code, item.Raw)
		if err != nil {
			if e.log != nil {
				e.log.Warn().Str("source", code).Err(err).Msg("failed to normalize record, skipping")
			}
			continue
		}
		records = append(records, rec)
	}

	return TaskResult{SourceCode: code, Status: TaskSuccess, Records: records, DurationMS: duration}
}

// timeoutLayer names one link in spec.md §4.9's timeout chain, paired
// with its configured duration.
type timeoutLayer struct {
	name     string
	duration time.Duration
}

// ValidateTimeoutChain checks spec.md §4.9's invariant that every outer
// timeout strictly exceeds the one nested inside it:
// FE_proxy > pipeline_fetch > consolidation_global > per_source (normal
// and degraded legs both checked against consolidation_global). A
// violation never blocks startup — it only logs a "near-inversion"
// warning naming the two offending layers, since a misconfigured
// deployment is still better served by running than refusing to start.
func ValidateTimeoutChain(feProxyTimeout, fetchTimeout time.Duration, cfg Config, log *logger.Logger) {
	chain := []timeoutLayer{
		{"fe_proxy", feProxyTimeout},
		{"pipeline_fetch", fetchTimeout},
		{"consolidation_global", cfg.TimeoutGlobal},
		{"consolidation_per_source", cfg.TimeoutPerSource},
	}
	for i := 0; i < len(chain)-1; i++ {
		outer, inner := chain[i], chain[i+1]
		if outer.duration <= inner.duration {
			warnTimeoutInversion(log, outer, inner)
		}
	}

	degraded := timeoutLayer{"consolidation_per_source_degraded", cfg.FailoverTimeoutPerSource}
	if cfg.TimeoutGlobal <= cfg.FailoverTimeoutPerSource {
		warnTimeoutInversion(log, timeoutLayer{"consolidation_global", cfg.TimeoutGlobal}, degraded)
	}
	if cfg.DegradedGlobalTimeout <= cfg.FailoverTimeoutPerSource {
		warnTimeoutInversion(log, timeoutLayer{"consolidation_degraded_global", cfg.DegradedGlobalTimeout}, degraded)
	}
}

func warnTimeoutInversion(log *logger.Logger, outer, inner timeoutLayer) {
	if log == nil {
		return
	}
	log.Warn().
		Str("outer_layer", outer.name).
		Dur("outer_timeout", outer.duration).
		Str("inner_layer", inner.name).
		Dur("inner_timeout", inner.duration).
		Msg("near-inversion in timeout chain: outer layer does not strictly exceed the layer it wraps")
}

// dedup groups records by DedupKey, keeping the record whose adapter
// priority is numerically lowest. Records without a DedupKey are never
// deduplicated.
func dedup(results []TaskResult) []*domain.UnifiedProcurement {
	bestByKey := make(map[string]*domain.UnifiedProcurement)
	var noKey []*domain.UnifiedProcurement

	for _, r := range results {
		for _, rec := range r.Records {
			if rec.DedupKey == "" {
				noKey = append(noKey, rec)
				continue
			}
			existing, ok := bestByKey[rec.DedupKey]
			if !ok || rec.Priority < existing.Priority {
				bestByKey[rec.DedupKey] = rec
			}
		}
	}

	out := make([]*domain.UnifiedProcurement, 0, len(bestByKey)+len(noKey))
	for _, rec := range bestByKey {
		out = append(out, rec)
	}
	out = append(out, noKey...)
	return out
}
