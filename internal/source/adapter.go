// Package source defines the SourceAdapter framework every procurement
// data source (PNCP, Portal de Compras, Compras.gov.br) implements, and
// the process-wide health registry the consolidation engine consults
// when deciding per-source deadlines.
//
// Grounded on original_source/backend/clients/base.py.
package source

import (
	"context"
	"sync"
	"time"
)

// Status is the health status of a procurement source.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Capability is an optional capability a source may support.
type Capability string

const (
	CapabilityFilterByUF      Capability = "filter_by_uf"
	CapabilityFilterByValue   Capability = "filter_by_value"
	CapabilityFilterByKeyword Capability = "filter_by_keyword"
	CapabilityPagination      Capability = "pagination"
	CapabilityDateRange       Capability = "date_range"
	CapabilityRealTime        Capability = "real_time"
)

// Metadata describes a procurement source adapter.
type Metadata struct {
	Name             string
	Code             string
	BaseURL          string
	DocumentationURL string
	Capabilities     map[Capability]struct{}
	RateLimitRPS     float64
	TypicalResponseMS int
	Priority         int
}

// HasCapability reports whether the source declares the given capability.
func (m Metadata) HasCapability(c Capability) bool {
	_, ok := m.Capabilities[c]
	return ok
}

// NewMetadata builds Metadata with the defaults base.py declares
// (rate_limit_rps=10, typical_response_ms=2000, priority=100) when the
// caller leaves them at zero value.
func NewMetadata(name, code, baseURL string, capabilities ...Capability) Metadata {
	capSet := make(map[Capability]struct{}, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = struct{}{}
	}
	return Metadata{
		Name:              name,
		Code:              code,
		BaseURL:           baseURL,
		Capabilities:      capSet,
		RateLimitRPS:      10.0,
		TypicalResponseMS: 2000,
		Priority:          100,
	}
}

// Query carries the search inputs an adapter's Fetch needs; fields a
// given source cannot filter server-side are the consolidation/filter
// layers' responsibility to apply client-side.
type Query struct {
	DataInicial time.Time
	DataFinal   time.Time
	UFs         []string
	Keyword     string
	ValorMin    float64
	ValorMax    float64
}

// Adapter is the interface every procurement source implements.
type Adapter interface {
	// Metadata returns the adapter's static description.
	Metadata() Metadata

	// Fetch returns the source's procurement items matching Query. It is
	// the adapter's own responsibility to paginate and to apply any
	// server-side filters it declared in its Capabilities.
	Fetch(ctx context.Context, q Query) ([]FetchedItem, error)

	// HealthCheck must return within 5s and must never panic.
	HealthCheck(ctx context.Context) Status
}

// FetchedItem carries an item's source-side ID and its raw adapter
// payload; the consolidation engine normalizes Raw into a domain record.
type FetchedItem struct {
	SourceID string
	Raw      map[string]interface{}
}

// MaxPages is the safety-net pagination cap every adapter must respect.
const MaxPages = 100

// HealthRegistry tracks per-source consecutive-failure counts and
// derives a coarse healthy/degraded/down status with a 5-minute TTL
// after which an entry reverts to healthy.
type HealthRegistry struct {
	mu      sync.Mutex
	entries map[string]*healthEntry
	ttl     time.Duration
}

type healthEntry struct {
	consecutiveFailures int
	updatedAt           time.Time
}

// NewHealthRegistry creates a process-wide health registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		entries: make(map[string]*healthEntry),
		ttl:     5 * time.Minute,
	}
}

// RecordSuccess resets the failure counter for a source.
func (h *HealthRegistry) RecordSuccess(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[code] = &healthEntry{consecutiveFailures: 0, updatedAt: time.Now()}
}

// RecordFailure increments the failure counter for a source.
func (h *HealthRegistry) RecordFailure(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[code]
	if !ok {
		e = &healthEntry{}
		h.entries[code] = e
	}
	e.consecutiveFailures++
	e.updatedAt = time.Now()
}

// Status returns the source's current status: healthy (available) below
// 3 consecutive failures, degraded at 3-4, down at 5+. Entries older
// than the TTL revert to available.
func (h *HealthRegistry) Status(code string) Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[code]
	if !ok {
		return StatusAvailable
	}
	if time.Since(e.updatedAt) > h.ttl {
		delete(h.entries, code)
		return StatusAvailable
	}
	switch {
	case e.consecutiveFailures >= 5:
		return StatusUnavailable
	case e.consecutiveFailures >= 3:
		return StatusDegraded
	default:
		return StatusAvailable
	}
}

// IsDown reports whether the consolidation engine should consider
// skipping this source.
func (h *HealthRegistry) IsDown(code string) bool {
	return h.Status(code) == StatusUnavailable
}
