// Package search holds the persisted Search aggregate and the
// repository interface its state machine and HTTP handlers depend on.
//
// Grounded on spec.md §3's Search data model and
// original_source/backend/search_state_manager.py's query helpers.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tjsasakifln/bidiq/internal/statemachine"
)

// Inputs carries a search's request parameters, persisted alongside its
// lifecycle columns.
type Inputs struct {
	Sectors        []string
	UFs            []string
	DateFrom       *time.Time
	DateTo         *time.Time
	CustomTerms    []string
	StatusFilters  []string
	ModalityFilters []int
	ValorMin       *float64
	ValorMax       *float64
}

// Search is the persisted aggregate tracked for the lifetime of one
// search execution.
type Search struct {
	SearchID      uuid.UUID
	UserID        uuid.UUID
	Inputs        Inputs
	Status        statemachine.State
	PipelineStage string
	StartedAt     time.Time
	CompletedAt   *time.Time
	ErrorCode     string
	ErrorMessage  string
	TotalRaw      int
	TotalFiltered int
	ValorTotal    float64
	ResumoExecutivo string
	Destaques       []string
	UFsTotal        int
	UFsCompleted    int
	UFsFailed       int
}

// Status is the status blob served by GET /v1/search/{search_id}/status.
type Status struct {
	SearchID     string
	State        statemachine.State
	Progress     int
	Stage        string
	StartedAt    time.Time
	ElapsedMS    int64
	UFsCompleted int
	UFsTotal     int
	UFsFailed    int
	ErrorMessage string
	ErrorCode    string
}

// Repository persists Search aggregates and their transition log.
type Repository interface {
	Create(ctx context.Context, s *Search) error
	GetByID(ctx context.Context, searchID uuid.UUID) (*Search, error)
	UpdateState(ctx context.Context, searchID uuid.UUID, state statemachine.State, stage string, completedAt *time.Time) error
	UpdateResults(ctx context.Context, searchID uuid.UUID, totalRaw, totalFiltered int, valorTotal float64) error
	UpdateSummary(ctx context.Context, searchID uuid.UUID, resumoExecutivo string, destaques []string) error

	AppendTransition(ctx context.Context, t statemachine.Transition) error
	GetTimeline(ctx context.Context, searchID uuid.UUID) ([]statemachine.Transition, error)
	GetCurrentTransition(ctx context.Context, searchID uuid.UUID) (*statemachine.Transition, error)
	GetStatus(ctx context.Context, searchID uuid.UUID) (*Status, error)

	// RecoverStaleSearches implements spec.md §4.7's startup recovery: any
	// non-terminal search older than maxAge is marked timed_out.
	// Non-terminal searches newer than maxAge are left unchanged.
	// Returns the count of recovered sessions. Tolerates older schemas
	// missing columns per spec.md's explicit fallback requirement.
	RecoverStaleSearches(ctx context.Context, maxAge time.Duration) (int, error)
}
