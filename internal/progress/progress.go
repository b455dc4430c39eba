// Package progress implements the Server-Sent-Events progress stream for
// an in-flight search: a bounded per-search event queue, a registry
// tracking every active search's tracker, and an optional Redis pub/sub
// mirror so a progress event published by one process reaches an SSE
// handler running in another.
//
// Grounded on original_source/backend/progress.py (via
// original_source/backend/tests/test_progress.py, since progress.py
// itself was not part of the retrieved source set) and the teacher's
// pkg/response.Stream (SSE writer, reused verbatim as transport) +
// pkg/database.RedisClient (Publish/Subscribe, reused verbatim as the
// pub/sub mirror).
package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjsasakifln/bidiq/pkg/database"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

// queueCapacity bounds each tracker's event queue so a slow or absent SSE
// reader can never make emit() block the pipeline goroutine publishing
// progress.
const queueCapacity = 256

// defaultTTL matches the original's _TRACKER_TTL: a tracker created this
// long ago is considered abandoned and swept by Registry.cleanupStale,
// whether or not it is still emitting events.
const defaultTTL = 10 * time.Minute

// Event is one frame of the SSE progress stream.
type Event struct {
	SearchID string                 `json:"search_id"`
	Stage    string                 `json:"state"`
	Progress int                    `json:"percent"`
	Message  string                 `json:"message"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
	Timestamp float64               `json:"ts"`
}

// redisChannel is the pub/sub channel a tracker mirrors its events to
// when running in Redis-backed mode.
func redisChannel(searchID string) string {
	return fmt.Sprintf("bidiq:progress:%s:events", searchID)
}

// redisMetaKey is the hash key a tracker's metadata (uf_count,
// created_at) is stored under so a different process can reconstruct a
// Redis-backed tracker it didn't create.
func redisMetaKey(searchID string) string {
	return fmt.Sprintf("bidiq:progress:%s", searchID)
}

// Tracker emits progress events for a single search into a bounded
// queue consumed by an SSE handler.
type Tracker struct {
	SearchID  string
	UFCount   int
	CreatedAt time.Time

	events       chan interface{}
	ufsCompleted int32
	isComplete   atomic.Bool
	useRedis     bool
	redis        *database.RedisClient
	log          *logger.Logger
}

func newTracker(searchID string, ufCount int, useRedis bool, redis *database.RedisClient, log *logger.Logger) *Tracker {
	return &Tracker{
		SearchID:  searchID,
		UFCount:   ufCount,
		CreatedAt: time.Now(),
		events:    make(chan interface{}, queueCapacity),
		useRedis:  useRedis,
		redis:     redis,
		log:       log,
	}
}

// Events returns the read side of the tracker's event queue, suitable
// for pkg/response.Stream's eventChan parameter.
func (t *Tracker) Events() <-chan interface{} {
	return t.events
}

// IsComplete reports whether a terminal (complete or error) event has
// been emitted.
func (t *Tracker) IsComplete() bool {
	return t.isComplete.Load()
}

// Emit publishes a progress event, clamping progress to [0, 100]. A
// full queue drops the event rather than blocking the caller — matching
// the queue's role as a best-effort live view, not a durable log (the
// durable record is the state machine's persisted transition).
func (t *Tracker) Emit(ctx context.Context, stage string, progressPct int, message string, detail map[string]interface{}) {
	if progressPct < 0 {
		progressPct = 0
	} else if progressPct > 100 {
		progressPct = 100
	}
	t.emitRaw(ctx, stage, progressPct, message, detail)
}

// EmitUFComplete records one more UF as fetched and emits the fetching
// stage's linear progress within [10, 55]: 10 + (completed/total)*45.
// Guards against division by zero when UFCount is 0.
func (t *Tracker) EmitUFComplete(ctx context.Context, uf string, itemsCount int) {
	completed := int(atomic.AddInt32(&t.ufsCompleted, 1))

	denom := t.UFCount
	if denom <= 0 {
		denom = 1
	}
	progressPct := 10 + int((float64(completed)/float64(denom))*45)

	message := fmt.Sprintf("Buscando dados: %d/%d estados", completed, t.UFCount)
	detail := map[string]interface{}{
		"uf":          uf,
		"uf_index":    completed,
		"uf_total":    t.UFCount,
		"items_found": itemsCount,
	}
	t.emitRaw(ctx, "fetching", progressPct, message, detail)
}

// EmitComplete marks the tracker terminal and emits the 100% frame.
func (t *Tracker) EmitComplete(ctx context.Context) {
	t.isComplete.Store(true)
	t.emitRaw(ctx, "complete", 100, "Busca concluída com sucesso", nil)
}

// EmitError marks the tracker terminal and emits an error frame with
// progress -1 (deliberately outside the clamped 0-100 range, signalling
// "indeterminate/failed" to the SSE client).
func (t *Tracker) EmitError(ctx context.Context, message string) {
	t.isComplete.Store(true)
	t.emitRaw(ctx, "error", -1, message, map[string]interface{}{"error": message})
}

func (t *Tracker) emitRaw(ctx context.Context, stage string, progressPct int, message string, detail map[string]interface{}) {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	event := Event{
		SearchID:  t.SearchID,
		Stage:     stage,
		Progress:  progressPct,
		Message:   message,
		Detail:    detail,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}

	select {
	case t.events <- event:
	default:
		if t.log != nil {
			t.log.Warn().Str("search_id", t.SearchID).Msg("progress event queue full, dropping event")
		}
	}

	if t.useRedis && t.redis != nil {
		if err := t.redis.Publish(ctx, redisChannel(t.SearchID), event); err != nil && t.log != nil {
			t.log.Warn().Err(err).Str("search_id", t.SearchID).Msg("failed to publish progress event to redis")
		}
	}
}

// Registry tracks every active search's Tracker, its Redis mirror
// metadata, and sweeps trackers whose CreatedAt is older than TTL.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	redis    *database.RedisClient
	log      *logger.Logger
	ttl      time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry builds a Registry. redis may be nil, in which case every
// tracker runs in-process-only mode regardless of the useRedis argument
// passed to Create.
func NewRegistry(redis *database.RedisClient, log *logger.Logger) *Registry {
	r := &Registry{
		trackers: make(map[string]*Tracker),
		redis:    redis,
		log:      log,
		ttl:      defaultTTL,
		stop:     make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Create registers a new tracker for a search. useRedis is honored only
// if the registry was built with a non-nil Redis client; callers pass
// it to mean "mirror this search's progress for cross-process
// consumers," matching original_source's is_redis_available gate.
func (r *Registry) Create(ctx context.Context, searchID string, ufCount int, useRedis bool) *Tracker {
	useRedis = useRedis && r.redis != nil

	t := newTracker(searchID, ufCount, useRedis, r.redis, r.log)

	r.mu.Lock()
	r.trackers[searchID] = t
	r.mu.Unlock()

	if useRedis {
		key := redisMetaKey(searchID)
		createdAt := fmt.Sprintf("%f", float64(t.CreatedAt.UnixNano())/1e9)
		if err := r.redis.HSet(ctx, key, "uf_count", ufCount); err != nil && r.log != nil {
			r.log.Warn().Err(err).Str("search_id", searchID).Msg("failed to store progress tracker metadata in redis")
		}
		if err := r.redis.HSet(ctx, key, "created_at", createdAt); err != nil && r.log != nil {
			r.log.Warn().Err(err).Str("search_id", searchID).Msg("failed to store progress tracker metadata in redis")
		}
		if err := r.redis.Expire(ctx, key, r.ttl); err != nil && r.log != nil {
			r.log.Warn().Err(err).Str("search_id", searchID).Msg("failed to set progress tracker metadata ttl")
		}
	}

	return t
}

// Get returns the tracker for a search, reconstructing it from Redis
// metadata (useRedis=true) if it isn't held in this process's memory —
// the case where the SSE handler and the worker that created the
// tracker live in different processes.
func (r *Registry) Get(ctx context.Context, searchID string) *Tracker {
	r.mu.Lock()
	t, ok := r.trackers[searchID]
	r.mu.Unlock()
	if ok {
		return t
	}

	if r.redis == nil {
		return nil
	}

	fields, err := r.redis.HGetAll(ctx, redisMetaKey(searchID))
	if err != nil || len(fields) == 0 {
		return nil
	}

	ufCount := 0
	fmt.Sscanf(strings.Trim(fields["uf_count"], `"`), "%d", &ufCount)

	createdAt := time.Now()
	if raw := strings.Trim(fields["created_at"], `"`); raw != "" {
		var unixSeconds float64
		if _, err := fmt.Sscanf(raw, "%f", &unixSeconds); err == nil {
			createdAt = time.Unix(0, int64(unixSeconds*1e9))
		}
	}

	reconstructed := newTracker(searchID, ufCount, true, r.redis, r.log)
	reconstructed.CreatedAt = createdAt
	r.mu.Lock()
	r.trackers[searchID] = reconstructed
	r.mu.Unlock()
	return reconstructed
}

// Remove deletes a search's tracker from memory and, if Redis-backed,
// from Redis. Redis failures are logged and otherwise ignored — cleanup
// is best-effort, never allowed to fail the caller's shutdown path.
func (r *Registry) Remove(ctx context.Context, searchID string) {
	r.mu.Lock()
	t, ok := r.trackers[searchID]
	delete(r.trackers, searchID)
	r.mu.Unlock()

	if ok && t.useRedis && r.redis != nil {
		if err := r.redis.Delete(ctx, redisMetaKey(searchID)); err != nil && r.log != nil {
			r.log.Warn().Err(err).Str("search_id", searchID).Msg("failed to delete progress tracker metadata from redis")
		}
	}
}

// Stop halts the TTL sweep goroutine.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.cleanupStale()
		}
	}
}

func (r *Registry) cleanupStale() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	for searchID, t := range r.trackers {
		if t.CreatedAt.Before(cutoff) {
			delete(r.trackers, searchID)
		}
	}
}
