package source

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry holds the configured set of enabled adapters plus the
// process-wide health registry the consolidation engine consults.
type Registry struct {
	adapters map[string]Adapter
	health   *HealthRegistry
}

// NewRegistry builds a Registry from the adapters enabled in
// configuration. An adapter is only "available" when enabled and
// (either no credential required or credential present) — the caller
// is expected to have already excluded adapters failing that check.
func NewRegistry(enabled map[string]Adapter) *Registry {
	return &Registry{
		adapters: enabled,
		health:   NewHealthRegistry(),
	}
}

// Get returns the adapter for a source code, or nil if not registered.
func (r *Registry) Get(code string) Adapter {
	return r.adapters[code]
}

// All returns every registered adapter, ordered by ascending priority
// (lower priority number = higher precedence).
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata().Priority < out[j].Metadata().Priority
	})
	return out
}

// Health returns the shared health registry.
func (r *Registry) Health() *HealthRegistry {
	return r.health
}

// DominantSource returns the registered adapter with the lowest
// (highest-precedence) Priority — the consolidation engine uses its
// health as the signal for whether to widen global/per-source deadlines.
func (r *Registry) DominantSource() Adapter {
	all := r.All()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// HealthSnapshot is a point-in-time report of a source's metadata and
// live status, as returned by Snapshot. No HTTP route serves it.
type HealthSnapshot struct {
	Metadata Metadata
	Status   Status
}

// Snapshot probes every registered adapter's HealthCheck concurrently
// with a 5s cap, matching the consolidation engine's fan-out health
// check contract.
func (r *Registry) Snapshot(ctx context.Context) []HealthSnapshot {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	all := r.All()
	snapshots := make([]HealthSnapshot, len(all))

	var wg sync.WaitGroup
	for i, a := range all {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			snapshots[i] = HealthSnapshot{
				Metadata: a.Metadata(),
				Status:   a.HealthCheck(ctx),
			}
		}(i, a)
	}
	wg.Wait()

	return snapshots
}
